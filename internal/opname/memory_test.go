package opname_test

import (
	"context"
	"sort"

	"github.com/odyssey-erp/stockroom/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockroom/internal/opname"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// memoryRepo layers sessions over the in-memory ledger store. Session state is
// restored together with the ledger when a transaction fails.
type memoryRepo struct {
	store    *inventorytest.Store
	sessions map[int64]opname.Session
	lines    map[int64][]opname.Line
	nextID   int64
}

func newMemoryRepo(store *inventorytest.Store) *memoryRepo {
	return &memoryRepo{
		store:    store,
		sessions: make(map[int64]opname.Session),
		lines:    make(map[int64][]opname.Line),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, opname.TxRepository) error) error {
	return m.store.Run(func() error {
		sessions := make(map[int64]opname.Session, len(m.sessions))
		for k, v := range m.sessions {
			sessions[k] = v
		}
		lines := make(map[int64][]opname.Line, len(m.lines))
		for k, v := range m.lines {
			lines[k] = append([]opname.Line(nil), v...)
		}
		nextID := m.nextID
		if err := fn(ctx, &memoryTx{Tx: m.store.Tx(), repo: m}); err != nil {
			m.sessions, m.lines, m.nextID = sessions, lines, nextID
			return err
		}
		return nil
	})
}

func (m *memoryRepo) GetSession(ctx context.Context, id int64) (opname.Session, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return opname.Session{}, shared.ErrNotFound
	}
	sess.Lines = append([]opname.Line(nil), m.lines[id]...)
	return sess, nil
}

func (m *memoryRepo) ListSessions(ctx context.Context, filter opname.ListFilter, offset, limit int) ([]opname.Session, error) {
	out := []opname.Session{}
	for _, sess := range m.sessions {
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		if filter.Location != "" && sess.Location != filter.Location {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return []opname.Session{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryTx struct {
	*inventorytest.Tx
	repo *memoryRepo
}

func (t *memoryTx) GetSessionForUpdate(ctx context.Context, id int64) (opname.Session, error) {
	sess, ok := t.repo.sessions[id]
	if !ok {
		return opname.Session{}, shared.ErrNotFound
	}
	return sess, nil
}

func (t *memoryTx) InsertSession(ctx context.Context, sess opname.Session) (opname.Session, error) {
	t.repo.nextID++
	sess.ID = t.repo.nextID
	sess.CreatedAt = t.repo.store.Now()
	sess.UpdatedAt = sess.CreatedAt
	t.repo.sessions[sess.ID] = sess
	return sess, nil
}

func (t *memoryTx) UpdateSession(ctx context.Context, sess opname.Session) error {
	if _, ok := t.repo.sessions[sess.ID]; !ok {
		return shared.ErrNotFound
	}
	sess.Lines = nil
	t.repo.sessions[sess.ID] = sess
	return nil
}

func (t *memoryTx) ListLines(ctx context.Context, sessionID int64) ([]opname.Line, error) {
	return append([]opname.Line(nil), t.repo.lines[sessionID]...), nil
}

func (t *memoryTx) InsertLine(ctx context.Context, line opname.Line) (opname.Line, error) {
	t.repo.nextID++
	line.ID = t.repo.nextID
	t.repo.lines[line.SessionID] = append(t.repo.lines[line.SessionID], line)
	return line, nil
}

func (t *memoryTx) UpdateLineCount(ctx context.Context, line opname.Line) error {
	lines := t.repo.lines[line.SessionID]
	for i := range lines {
		if lines[i].ID == line.ID {
			lines[i] = line
			return nil
		}
	}
	return shared.ErrNotFound
}
