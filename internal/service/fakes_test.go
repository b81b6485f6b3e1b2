package service

import (
	"context"
	"sync"
	"time"

	"github.com/meguriba/meguriba-backend/internal/model"
	"github.com/meguriba/meguriba-backend/internal/repository"
	"gorm.io/gorm"
)

func nowPtr() *time.Time {
	t := time.Now()
	return &t
}

// In-memory stand-ins for the repository interfaces. Each guards its state
// with a mutex so the concurrency tests exercise the same serialization the
// real transactions provide.

type fakeItemRepo struct {
	mu    sync.Mutex
	seq   uint64
	items map[uint64]*model.Item
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{items: make(map[uint64]*model.Item)}
}

func (r *fakeItemRepo) Create(_ context.Context, item *model.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	item.ID = r.seq
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *fakeItemRepo) FindByID(_ context.Context, id uint64) (*model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *item
	return &cp, nil
}

func (r *fakeItemRepo) List(_ context.Context, limit, offset int, status model.ItemStatus) ([]model.Item, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Item
	for _, item := range r.items {
		if status == "" || item.Status == status {
			out = append(out, *item)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeItemRepo) ListByOwner(_ context.Context, ownerUID string) ([]model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Item
	for _, item := range r.items {
		if item.OwnerUID == ownerUID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (r *fakeItemRepo) Update(_ context.Context, item *model.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *fakeItemRepo) Delete(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *fakeItemRepo) UpdateStatus(_ context.Context, id uint64, from []model.ItemStatus, to model.ItemStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return 0, nil
	}
	for _, f := range from {
		if item.Status == f {
			item.Status = to
			return 1, nil
		}
	}
	return 0, nil
}

func (r *fakeItemRepo) SetDB(*gorm.DB) {}

type fakeNegRepo struct {
	mu       sync.Mutex
	seq      uint64
	requests map[uint64]*model.NegotiationRequest
	convs    *fakeConvRepo
}

func newFakeNegRepo(convs *fakeConvRepo) *fakeNegRepo {
	return &fakeNegRepo{requests: make(map[uint64]*model.NegotiationRequest), convs: convs}
}

func (r *fakeNegRepo) CreateWithConversation(ctx context.Context, req *model.NegotiationRequest, conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.requests {
		if ex.ItemID == req.ItemID && ex.RequesterUID == req.RequesterUID &&
			(ex.Status == model.NegotiationStatusPending || ex.Status == model.NegotiationStatusActive) {
			return &repository.DuplicateOpenError{ExistingID: ex.ID}
		}
	}
	r.seq++
	req.ID = r.seq
	conv.NegotiationRequestID = &req.ID
	if err := r.convs.create(conv); err != nil {
		return err
	}
	req.ConversationID = conv.ID
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *fakeNegRepo) FindByID(_ context.Context, id uint64) (*model.NegotiationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *fakeNegRepo) FindOpenByItemAndRequester(_ context.Context, itemID uint64, requesterUID string) (*model.NegotiationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.ItemID == itemID && req.RequesterUID == requesterUID &&
			(req.Status == model.NegotiationStatusPending || req.Status == model.NegotiationStatusActive) {
			cp := *req
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeNegRepo) HasOpenByItem(_ context.Context, itemID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.ItemID == itemID &&
			(req.Status == model.NegotiationStatusPending || req.Status == model.NegotiationStatusActive) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeNegRepo) ListForUser(_ context.Context, uid string) ([]model.NegotiationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.NegotiationRequest
	for _, req := range r.requests {
		if req.OwnerUID == uid || req.RequesterUID == uid {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *fakeNegRepo) Accept(_ context.Context, id uint64, role repository.AcceptRole) (*model.NegotiationRequest, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, false, gorm.ErrRecordNotFound
	}
	if req.Status != model.NegotiationStatusPending {
		return nil, false, repository.ErrNotPending
	}
	switch role {
	case repository.RoleOwner:
		req.OwnerAccepted = true
	case repository.RoleRequester:
		req.RequesterAccepted = true
	}
	becameActive := false
	if req.OwnerAccepted && req.RequesterAccepted {
		req.Status = model.NegotiationStatusActive
		becameActive = true
	}
	r.convs.syncAcceptance(id, req.OwnerAccepted, req.RequesterAccepted, becameActive)
	cp := *req
	return &cp, becameActive, nil
}

func (r *fakeNegRepo) Reject(_ context.Context, id uint64) (*model.NegotiationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if req.Status.IsTerminal() {
		return nil, repository.ErrTerminalState
	}
	req.Status = model.NegotiationStatusRejected
	r.convs.decline(id)
	cp := *req
	return &cp, nil
}

func (r *fakeNegRepo) ConfirmHandoff(_ context.Context, id uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	switch req.Status {
	case model.NegotiationStatusActive:
	case model.NegotiationStatusCompleted:
		return 0, nil
	default:
		return 0, repository.ErrNotActive
	}
	rows := r.convs.confirm(id)
	if rows == 0 {
		return 0, nil
	}
	req.Status = model.NegotiationStatusCompleted
	return rows, nil
}

func (r *fakeNegRepo) SetDB(*gorm.DB) {}

type fakeConvRepo struct {
	mu       sync.Mutex
	seq      uint64
	msgSeq   uint64
	convs    map[uint64]*model.Conversation
	messages map[uint64][]model.Message
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		convs:    make(map[uint64]*model.Conversation),
		messages: make(map[uint64][]model.Message),
	}
}

func (r *fakeConvRepo) create(conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	conv.ID = r.seq
	cp := *conv
	r.convs[conv.ID] = &cp
	return nil
}

func (r *fakeConvRepo) syncAcceptance(negID uint64, ownerOK, requesterOK, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cv := range r.convs {
		if cv.NegotiationRequestID != nil && *cv.NegotiationRequestID == negID {
			cv.OwnerAccepted = ownerOK
			cv.RequesterAccepted = requesterOK
			if active {
				cv.Status = model.ConversationStatusActive
			}
		}
	}
}

func (r *fakeConvRepo) decline(negID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cv := range r.convs {
		if cv.NegotiationRequestID != nil && *cv.NegotiationRequestID == negID {
			cv.Status = model.ConversationStatusDeclined
		}
	}
}

func (r *fakeConvRepo) FindByID(_ context.Context, id uint64) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cv, ok := r.convs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *cv
	return &cp, nil
}

func (r *fakeConvRepo) FindByUser(_ context.Context, uid string) ([]model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Conversation
	for _, cv := range r.convs {
		if cv.CreatorUID == uid || cv.ParticipantUID == uid {
			out = append(out, *cv)
		}
	}
	return out, nil
}

func (r *fakeConvRepo) FindOrCreateContact(_ context.Context, itemID uint64, creatorUID, participantUID string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cv := range r.convs {
		if cv.NegotiationRequestID == nil && cv.ItemID != nil && *cv.ItemID == itemID && cv.CreatorUID == creatorUID {
			cp := *cv
			return &cp, nil
		}
	}
	r.seq++
	cv := &model.Conversation{
		ID:             r.seq,
		ItemID:         &itemID,
		CreatorUID:     creatorUID,
		ParticipantUID: participantUID,
		Status:         model.ConversationStatusActive,
	}
	r.convs[cv.ID] = cv
	cp := *cv
	return &cp, nil
}

func (r *fakeConvRepo) CreateMessage(_ context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgSeq++
	msg.ID = r.msgSeq
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], *msg)
	return nil
}

func (r *fakeConvRepo) ListMessages(_ context.Context, convID uint64) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Message(nil), r.messages[convID]...), nil
}

func (r *fakeConvRepo) MarkMessagesRead(_ context.Context, convID uint64, readerUID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	msgs := r.messages[convID]
	for i := range msgs {
		if msgs[i].SenderUID != readerUID && msgs[i].ReadAt == nil {
			now := nowPtr()
			msgs[i].ReadAt = now
			n++
		}
	}
	return n, nil
}

func (r *fakeConvRepo) CountUnread(_ context.Context, convID uint64, readerUID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages[convID] {
		if m.SenderUID != readerUID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

// confirm flips handoff_confirmed on the conversation gated by negID,
// returning rows changed.
func (r *fakeConvRepo) confirm(negID uint64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cv := range r.convs {
		if cv.NegotiationRequestID != nil && *cv.NegotiationRequestID == negID {
			if cv.HandoffConfirmed {
				return 0
			}
			cv.HandoffConfirmed = true
			cv.HandoffConfirmedAt = nowPtr()
			return 1
		}
	}
	return 0
}

func (r *fakeConvRepo) AssignHandoffToken(_ context.Context, convID uint64, code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cv, ok := r.convs[convID]
	if !ok {
		return "", gorm.ErrRecordNotFound
	}
	if cv.HandoffToken != nil && *cv.HandoffToken != "" {
		return *cv.HandoffToken, nil
	}
	for _, other := range r.convs {
		if other.ID != convID && other.HandoffToken != nil && *other.HandoffToken == code && !other.HandoffConfirmed {
			return "", repository.ErrTokenCollision
		}
	}
	cv.HandoffToken = &code
	return code, nil
}

func (r *fakeConvRepo) SetDB(*gorm.DB) {}

type fakeNoteRepo struct {
	mu    sync.Mutex
	notes []model.Notification
}

func (r *fakeNoteRepo) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = uint64(len(r.notes) + 1)
	r.notes = append(r.notes, *n)
	return nil
}

func (r *fakeNoteRepo) ListByUser(_ context.Context, uid string, unreadOnly bool, _ int) ([]model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.notes {
		if n.UserUID == uid && (!unreadOnly || n.ReadAt == nil) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeNoteRepo) MarkAllRead(_ context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notes {
		if r.notes[i].UserUID == uid && r.notes[i].ReadAt == nil {
			r.notes[i].ReadAt = nowPtr()
		}
	}
	return nil
}

func (r *fakeNoteRepo) MarkByConversation(_ context.Context, uid string, convID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notes {
		if r.notes[i].UserUID == uid && r.notes[i].ConversationID != nil && *r.notes[i].ConversationID == convID {
			r.notes[i].ReadAt = nowPtr()
		}
	}
	return nil
}

func (r *fakeNoteRepo) CountUnread(_ context.Context, uid string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, note := range r.notes {
		if note.UserUID == uid && note.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *fakeNoteRepo) SetDB(*gorm.DB) {}

// recordingPublisher captures fan-out for assertions.
type recordingPublisher struct {
	mu         sync.Mutex
	userEvents map[string][]string // uid -> event names
	convEvents map[uint64][]string
	convMsgIDs map[uint64][]uint64 // conversation -> message ids in publish order
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		userEvents: make(map[string][]string),
		convEvents: make(map[uint64][]string),
		convMsgIDs: make(map[uint64][]uint64),
	}
}

func (p *recordingPublisher) PublishToUser(uid string, event string, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userEvents[uid] = append(p.userEvents[uid], event)
}

func (p *recordingPublisher) PublishToConversation(convID uint64, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.convEvents[convID] = append(p.convEvents[convID], event)
	if msg, ok := payload.(*model.Message); ok {
		p.convMsgIDs[convID] = append(p.convMsgIDs[convID], msg.ID)
	}
}

func (p *recordingPublisher) userSaw(uid, event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.userEvents[uid] {
		if e == event {
			return true
		}
	}
	return false
}

func (p *recordingPublisher) convSaw(convID uint64, event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.convEvents[convID] {
		if e == event {
			return true
		}
	}
	return false
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string // recipient addresses
}

func (m *fakeMailer) Send(to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

type fakeDirectory struct{}

func (fakeDirectory) Email(_ context.Context, uid string) (string, error) {
	return uid + "@example.com", nil
}

func (fakeDirectory) DisplayName(_ context.Context, uid string) (string, error) {
	return uid, nil
}
