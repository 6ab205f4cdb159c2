// Package memory はプロセス内で完結するストア実装。開発用の起動モードとテストで使う
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/facility"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/transaction"
)

var ErrForeignTx = errors.New("メモリストアのトランザクションではありません")

// Store は施設カタログ・予約・予約履歴・テナント所属をまとめて保持する
// 書き込みトランザクションはストア全体で1つずつ実行され、コミット時にまとめて反映される
type Store struct {
	sem chan struct{}

	mu           sync.RWMutex
	facilities   map[string]*facility.Facility
	slots        map[string]*facility.Slot
	reservations map[string]*reservation.Reservation
	history      []*reservation.HistoryEvent
	members      map[string]struct{}
	historyErr   error
}

func NewStore() *Store {
	return &Store{
		sem:          make(chan struct{}, 1),
		facilities:   make(map[string]*facility.Facility),
		slots:        make(map[string]*facility.Slot),
		reservations: make(map[string]*reservation.Reservation),
		members:      make(map[string]struct{}),
	}
}

// Tx はメモリストアのトランザクション
type Tx struct {
	store *Store
	ops   []func(*Store)
	once  sync.Once
}

// Begin は他の書き込みトランザクションが終わるまで待ってから開始する
func (s *Store) Begin(ctx context.Context) (transaction.Tx, error) {
	select {
	case s.sem <- struct{}{}:
		return &Tx{store: s}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Commit は保留中の書き込みを反映する。2回目以降の呼び出しは何もしない
func (t *Tx) Commit() error {
	t.once.Do(func() {
		t.store.mu.Lock()
		for _, op := range t.ops {
			op(t.store)
		}
		t.store.mu.Unlock()
		<-t.store.sem
	})
	return nil
}

// Rollback は保留中の書き込みを破棄する。コミット後の呼び出しは何もしない
func (t *Tx) Rollback() error {
	t.once.Do(func() {
		t.ops = nil
		<-t.store.sem
	})
	return nil
}

func asTx(tx transaction.Tx) (*Tx, error) {
	mt, ok := tx.(*Tx)
	if !ok || mt == nil {
		return nil, ErrForeignTx
	}
	return mt, nil
}

// === facility.Catalog ===

// AddFacility は施設を登録する。IDが空なら採番する
func (s *Store) AddFacility(f *facility.Facility) *facility.Facility {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *f
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.facilities[facilityKey(c.TenantID, c.ID)] = &c
	out := c
	return &out
}

// AddSlot は区画を登録する。IDが空なら採番する
func (s *Store) AddSlot(sl *facility.Slot) *facility.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sl
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.slots[slotKey(c.TenantID, c.FacilityID, c.ID)] = &c
	out := c
	return &out
}

// Catalog は facility.Catalog の実装
type Catalog struct{ s *Store }

// Catalog は施設カタログとしてのビューを返す
func (s *Store) Catalog() *Catalog { return &Catalog{s: s} }

func (c *Catalog) GetByID(ctx context.Context, tenantID, id string) (*facility.Facility, error) {
	s := c.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facilities[facilityKey(tenantID, id)]
	if !ok {
		return nil, facility.ErrFacilityNotFound
	}
	out := *f
	return &out, nil
}

func (c *Catalog) GetSlot(ctx context.Context, tenantID, facilityID, slotID string) (*facility.Slot, error) {
	s := c.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[slotKey(tenantID, facilityID, slotID)]
	if !ok {
		return nil, facility.ErrSlotNotFound
	}
	out := *sl
	return &out, nil
}

// === テナント所属 ===

func (s *Store) AddMember(tenantID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[tenantID+"/"+userID] = struct{}{}
}

func (s *Store) IsMember(ctx context.Context, tenantID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[tenantID+"/"+userID]
	return ok, nil
}

// === 予約履歴 ===

// FailHistoryWith は以降の履歴追記を err で失敗させる。nil で解除
func (s *Store) FailHistoryWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyErr = err
}

// HistoryRepository は reservation.HistoryRepository の実装
type HistoryRepository struct{ s *Store }

// History は予約履歴リポジトリとしてのビューを返す
func (s *Store) History() *HistoryRepository { return &HistoryRepository{s: s} }

func (h *HistoryRepository) Append(ctx context.Context, e *reservation.HistoryEvent) error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return s.historyErr
	}
	c := *e
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	e.ID = c.ID
	s.history = append(s.history, &c)
	return nil
}

func (h *HistoryRepository) ListByReservation(ctx context.Context, tenantID, reservationID string) ([]*reservation.HistoryEvent, error) {
	s := h.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*reservation.HistoryEvent
	for _, e := range s.history {
		if e.TenantID == tenantID && e.ReservationID == reservationID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// === reservation.Repository ===

// ReservationRepository は reservation.Repository の実装
type ReservationRepository struct{ s *Store }

// Reservations は予約リポジトリとしてのビューを返す
func (s *Store) Reservations() *ReservationRepository { return &ReservationRepository{s: s} }

func (rr *ReservationRepository) Create(ctx context.Context, tx transaction.Tx, r *reservation.Reservation) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	stored := cloneReservation(r)
	mt.ops = append(mt.ops, func(s *Store) {
		s.reservations[stored.ID] = stored
	})
	return nil
}

func (rr *ReservationRepository) GetByID(ctx context.Context, tenantID, id string) (*reservation.Reservation, error) {
	s := rr.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findReservation(tenantID, id)
}

// GetByIDForUpdate はトランザクションが直列化されているため通常の読み込みと同じ
func (rr *ReservationRepository) GetByIDForUpdate(ctx context.Context, tx transaction.Tx, tenantID, id string) (*reservation.Reservation, error) {
	s := rr.s
	if _, err := asTx(tx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findReservation(tenantID, id)
}

func (rr *ReservationRepository) UpdateStatus(ctx context.Context, tx transaction.Tx, r *reservation.Reservation, from reservation.Status) error {
	s := rr.s
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	s.mu.RLock()
	current, ok := s.reservations[r.ID]
	var currentStatus reservation.Status
	if ok {
		currentStatus = current.Status
	}
	s.mu.RUnlock()
	if !ok || current.TenantID != r.TenantID {
		return reservation.ErrReservationNotFound
	}
	if currentStatus != from {
		return reservation.ErrAlreadyCanceled
	}
	id, status, canceledAt, updatedAt := r.ID, r.Status, r.CanceledAt, r.UpdatedAt
	mt.ops = append(mt.ops, func(s *Store) {
		if cur, ok := s.reservations[id]; ok {
			cur.Status = status
			cur.CanceledAt = canceledAt
			cur.UpdatedAt = updatedAt
		}
	})
	return nil
}

// LockResource はストア全体でトランザクションを直列化しているため何もしない
func (rr *ReservationRepository) LockResource(ctx context.Context, tx transaction.Tx, key string) error {
	_, err := asTx(tx)
	return err
}

func (rr *ReservationRepository) HasOverlap(ctx context.Context, tx transaction.Tx, q reservation.OverlapQuery) (bool, error) {
	s := rr.s
	if _, err := asTx(tx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reservations {
		if r.TenantID != q.TenantID || r.FacilityID != q.FacilityID || !r.IsActive() {
			continue
		}
		if q.SlotID != nil && (r.SlotID == nil || *r.SlotID != *q.SlotID) {
			continue
		}
		if r.Window.Overlaps(q.Window) {
			return true, nil
		}
	}
	return false, nil
}

func (rr *ReservationRepository) FindActiveByUser(ctx context.Context, tenantID, userID, facilityID string, window reservation.TimeWindow) ([]*reservation.Reservation, error) {
	s := rr.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*reservation.Reservation
	for _, r := range s.reservations {
		if r.TenantID == tenantID && r.UserID == userID && r.FacilityID == facilityID &&
			r.IsActive() && r.Window.Overlaps(window) {
			out = append(out, cloneReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Window.Start.Before(out[j].Window.Start)
	})
	return out, nil
}

func (rr *ReservationRepository) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*reservation.Reservation, error) {
	s := rr.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*reservation.Reservation
	for _, r := range s.reservations {
		if r.TenantID == tenantID && r.UserID == userID {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []*reservation.Reservation{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*reservation.Reservation, 0, end-offset)
	for _, r := range all[offset:end] {
		out = append(out, cloneReservation(r))
	}
	return out, nil
}

func (rr *ReservationRepository) CountActiveByStatus(ctx context.Context) (map[reservation.Status]int, error) {
	s := rr.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[reservation.Status]int{
		reservation.StatusPending:   0,
		reservation.StatusConfirmed: 0,
	}
	for _, r := range s.reservations {
		if r.IsActive() {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (s *Store) findReservation(tenantID, id string) (*reservation.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok || r.TenantID != tenantID {
		return nil, reservation.ErrReservationNotFound
	}
	return cloneReservation(r), nil
}

func cloneReservation(r *reservation.Reservation) *reservation.Reservation {
	c := *r
	if r.SlotID != nil {
		v := *r.SlotID
		c.SlotID = &v
	}
	if r.ParticipantCount != nil {
		v := *r.ParticipantCount
		c.ParticipantCount = &v
	}
	if r.CanceledAt != nil {
		v := *r.CanceledAt
		c.CanceledAt = &v
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func facilityKey(tenantID, id string) string { return tenantID + "/" + id }

func slotKey(tenantID, facilityID, id string) string {
	return tenantID + "/" + facilityID + "/" + id
}

var (
	_ facility.Catalog              = (*Catalog)(nil)
	_ reservation.Repository        = (*ReservationRepository)(nil)
	_ reservation.HistoryRepository = (*HistoryRepository)(nil)
	_ transaction.Manager           = (*Store)(nil)
)
