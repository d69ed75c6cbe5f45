package relay

// Select returns the posts of batch newer than last, preserving batch order,
// and the highest identifier seen. With no cursor every post is new. MaxID
// covers the whole batch, not just deliverable posts, and never drops below
// the prior cursor.
func Select(batch []Post, last *Cursor) Selection {
	var floor int64
	if last != nil {
		floor = last.LastID
	}
	sel := Selection{MaxID: floor}
	for _, p := range batch {
		if p.ID > sel.MaxID {
			sel.MaxID = p.ID
		}
		if last == nil || p.ID > floor {
			sel.Fresh = append(sel.Fresh, p)
		}
	}
	return sel
}
