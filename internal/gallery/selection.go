package gallery

import "context"

// Selection is the detail pane state for a chosen gallery index.
type Selection struct {
	Index *int
	Asset Asset
	// VideoVisible and InfoVisible follow whether a video was resolved.
	VideoVisible bool
	InfoVisible  bool
	// SendVisible shows the "send to post-processing" control.
	SendVisible bool
}

// Selected reports whether the selection refers to an entry.
func (s Selection) Selected() bool {
	return s.Index != nil
}

// Select resolves entries[*index]. A nil index, an empty list or an index past
// the end is "nothing selected": every detail control hidden and no error.
func (r *Resolver) Select(ctx context.Context, entries []Entry, index *int) (Selection, error) {
	if index == nil || *index < 0 || *index >= len(entries) {
		return Selection{}, nil
	}
	asset, err := r.ResolveAsset(ctx, entries[*index].Prefix)
	if err != nil {
		return Selection{}, err
	}
	idx := *index
	return Selection{
		Index:        &idx,
		Asset:        asset,
		VideoVisible: asset.Found,
		InfoVisible:  asset.Found,
		SendVisible:  asset.Found,
	}, nil
}
