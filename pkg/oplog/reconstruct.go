package oplog

// LinearEntry is one step of the tip's reconstructed linear history, in
// chronological order.
type LinearEntry struct {
	Description string
	Date        float64
	State       State
}

// LinearHistory walks the tip backwards through prev_idx, collecting the
// description carried by each linear_idx record along with the date/state
// the chain-link itself carried, then reverses the result into
// chronological order. An empty tip (linear_idx == 0) returns (nil, nil).
func (e *Engine) LinearHistory() ([]LinearEntry, error) {
	_, top, err := e.log.Top()
	if err != nil {
		return nil, err
	}
	if top.LinearIdx == 0 {
		return nil, nil
	}

	var out []LinearEntry
	cur := top
	for cur.LinearIdx > 0 {
		action, err := e.log.Get(cur.LinearIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, LinearEntry{Description: action.Description, Date: cur.Date, State: cur.State})
		prev, err := e.log.Get(cur.PrevIdx)
		if err != nil {
			return nil, err
		}
		cur = prev
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RedoListing is one entry of the tip's redo set, resolved to the
// description of the action it would restore and the time it was undone.
type RedoListing struct {
	Description string
	UndoneAt    float64
}

// Redos resolves the tip's redo set into human-readable listings, in the
// set's own order: the entry Redo(-1) would pick comes last. Each listing
// carries the description of the action a redo would restore and the time
// it was last undone.
func (e *Engine) Redos() ([]RedoListing, error) {
	_, top, err := e.log.Top()
	if err != nil {
		return nil, err
	}
	out := make([]RedoListing, 0, len(top.Redos))
	for _, r := range top.Redos {
		redoOf, err := e.log.Get(r.LinearIdx)
		if err != nil {
			return nil, err
		}
		undoneAt, err := e.log.Get(r.LastRedoIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, RedoListing{Description: redoOf.Description, UndoneAt: undoneAt.Date})
	}
	return out, nil
}

// HistoryLine is one raw record from a full log scan, used by the
// diagnostic `history` CLI command.
type HistoryLine struct {
	Idx         int64
	Kind        Kind
	Description string
	N           int64
	LinearIdx   int64
	State       State
}

// History returns every record in the log in append order, unlike
// LinearHistory which follows only the tip's active chain.
func (e *Engine) History() ([]HistoryLine, error) {
	entries, err := e.log.IndexedEntries()
	if err != nil {
		return nil, err
	}
	out := make([]HistoryLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryLine{
			Idx:         e.Idx,
			Kind:        e.Op.Kind,
			Description: e.Op.Description,
			N:           e.Op.N,
			LinearIdx:   e.Op.LinearIdx,
			State:       e.Op.State,
		})
	}
	return out, nil
}
