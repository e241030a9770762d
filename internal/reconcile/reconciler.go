package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convsync/internal/clock"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/internal/event"
	"github.com/mbeoliero/convsync/internal/metrics"
	"github.com/mbeoliero/convsync/pkg/constant"
	"github.com/mbeoliero/convsync/pkg/errcode"
	"github.com/mbeoliero/convsync/pkg/idgen"
)

// Match rules reported in Result and metrics
const (
	RuleClientMsgId    = "client_msg_id"
	RuleExactText      = "exact_text"
	RuleNormalizedText = "normalized_text"
)

const defaultMatchWindow = 30 * time.Second

// Match pairs a removed speculative entry with the confirmed entry that replaced it
type Match struct {
	TempId    string
	MessageId string
	Rule      string
}

// Result describes one reconciliation pass
type Result struct {
	Matched []Match
	// Added is the number of confirmed entries seen for the first time
	Added int
	// Pending is the number of speculative entries left after the pass
	Pending int
}

// Changed reports whether the pass altered the merged view
func (r Result) Changed() bool {
	return len(r.Matched) > 0 || r.Added > 0
}

// Update is published whenever the merged view of a conversation changes
type Update struct {
	ConversationId string
	Messages       []*entity.Message
}

// Reconciler owns speculative entries until a confirmed entry replaces them
type Reconciler struct {
	window  time.Duration
	clk     clock.Clock
	ids     idgen.IDGenerator
	metrics *metrics.Metrics

	mu    sync.Mutex
	convs map[string]*conversation

	updates *event.Stream[Update]
}

type conversation struct {
	// pass is held for the duration of a reconciliation pass
	pass      chan struct{}
	pending   []*entity.Message
	confirmed map[string]*entity.Message
	// consumed holds confirmed ids that already replaced a speculative entry
	consumed map[string]struct{}
}

func newConversation() *conversation {
	return &conversation{
		pass:      make(chan struct{}, 1),
		confirmed: make(map[string]*entity.Message),
		consumed:  make(map[string]struct{}),
	}
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock sets the clock used to stamp speculative entries
func WithClock(clk clock.Clock) Option {
	return func(r *Reconciler) {
		r.clk = clk
	}
}

// WithIDGenerator sets the temp id generator
func WithIDGenerator(gen idgen.IDGenerator) Option {
	return func(r *Reconciler) {
		r.ids = gen
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// New creates a Reconciler. A zero window uses 30s.
func New(window time.Duration, opts ...Option) *Reconciler {
	if window <= 0 {
		window = defaultMatchWindow
	}
	r := &Reconciler{
		window:  window,
		clk:     clock.Real(),
		convs:   make(map[string]*conversation),
		updates: event.NewStream[Update](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ids == nil {
		r.ids = idgen.WithPrefix(constant.TempIdPrefix, idgen.NewUUIDGenerator())
	}
	return r
}

// SpeculativeOption decorates a speculative entry at creation
type SpeculativeOption func(*entity.Message)

// WithReplyTo marks the entry as a reply to parentId
func WithReplyTo(parentId string) SpeculativeOption {
	return func(m *entity.Message) {
		m.ParentId = parentId
	}
}

// WithAttachments attaches media references to the entry
func WithAttachments(attachments ...entity.Attachment) SpeculativeOption {
	return func(m *entity.Message) {
		m.Attachments = append(m.Attachments, attachments...)
		m.MsgType = entity.MsgTypeOf(m.Attachments)
	}
}

// AddSpeculative records a locally created entry and returns its temp id.
// The temp id doubles as the client message id sent to the server.
func (r *Reconciler) AddSpeculative(conversationId, senderId, text string, opts ...SpeculativeOption) (string, error) {
	if conversationId == "" || senderId == "" {
		return "", errcode.ErrInvalidParam
	}

	tempId, err := r.ids.NextID()
	if err != nil {
		return "", errcode.ErrInternalServer.Wrap(err)
	}

	msg := &entity.Message{
		TempId:         tempId,
		ClientMsgId:    tempId,
		ConversationId: conversationId,
		SenderId:       senderId,
		MsgType:        constant.MsgTypeText,
		Text:           text,
		CreatedAt:      r.clk.Now().UnixMilli(),
		IsOptimistic:   true,
	}
	for _, opt := range opts {
		opt(msg)
	}
	if msg.Text == "" && len(msg.Attachments) == 0 {
		return "", errcode.ErrInvalidParam
	}

	r.mu.Lock()
	conv := r.conversationLocked(conversationId)
	conv.pending = append(conv.pending, msg)
	view := conv.viewLocked()
	r.mu.Unlock()

	r.metrics.SpeculativePending(1)
	r.updates.Publish(Update{ConversationId: conversationId, Messages: view})
	return tempId, nil
}

// Reconcile runs one pass over confirmed for conversationId.
//
// Each pending speculative entry, in creation order, is removed by the first
// confirmed entry in batch order that has the same sender, equal text (exact
// or after whitespace normalization) and a creation time less than the match
// window apart. A confirmed entry echoing the temp id as its client message id
// matches regardless of text and time. A confirmed entry replaces at most one
// speculative entry, across passes too, so replaying a batch changes nothing.
//
// Passes for one conversation never overlap; a pass waits for the previous
// one or for ctx to be done.
func (r *Reconciler) Reconcile(ctx context.Context, conversationId string, confirmed []*entity.Message) (Result, error) {
	r.mu.Lock()
	conv := r.conversationLocked(conversationId)
	r.mu.Unlock()

	select {
	case conv.pass <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-conv.pass }()

	r.metrics.ReconcilePass()

	r.mu.Lock()
	pending := make([]*entity.Message, len(conv.pending))
	copy(pending, conv.pending)
	consumed := make(map[string]struct{}, len(conv.consumed))
	for id := range conv.consumed {
		consumed[id] = struct{}{}
	}
	r.mu.Unlock()

	candidates := make([]*entity.Message, 0, len(confirmed))
	for _, m := range confirmed {
		if m == nil || m.Id == "" {
			continue
		}
		if m.ConversationId != "" && m.ConversationId != conversationId {
			continue
		}
		candidates = append(candidates, m)
	}

	matches := r.match(pending, candidates, consumed)

	r.mu.Lock()
	var res Result
	for _, m := range candidates {
		if _, ok := conv.confirmed[m.Id]; ok {
			continue
		}
		c := m.Clone()
		c.ConversationId = conversationId
		c.IsOptimistic = false
		conv.confirmed[c.Id] = c
		res.Added++
	}
	for _, match := range matches {
		if !conv.removePendingLocked(match.TempId) {
			// discarded while the pass was running
			continue
		}
		conv.consumed[match.MessageId] = struct{}{}
		res.Matched = append(res.Matched, match)
	}
	res.Pending = len(conv.pending)
	var view []*entity.Message
	if res.Changed() {
		view = conv.viewLocked()
	}
	r.mu.Unlock()

	for _, match := range res.Matched {
		r.metrics.ReconcileMatched(match.Rule)
	}
	if len(res.Matched) > 0 {
		r.metrics.SpeculativePending(-len(res.Matched))
		log.CtxDebug(ctx, "reconcile matched: conversation_id=%s, matched=%d, pending=%d", conversationId, len(res.Matched), res.Pending)
	}
	if res.Changed() {
		r.updates.Publish(Update{ConversationId: conversationId, Messages: view})
	}
	return res, nil
}

// match pairs speculative entries with candidates. Client id echoes are
// resolved first, and a candidate linked to another pending entry by client
// id is never text matched.
func (r *Reconciler) match(pending, candidates []*entity.Message, consumed map[string]struct{}) []Match {
	used := make(map[string]struct{})
	for id := range consumed {
		used[id] = struct{}{}
	}

	linked := make(map[string]struct{}, len(pending))
	for _, pend := range pending {
		linked[pend.TempId] = struct{}{}
	}

	var matches []Match
	matchedTemp := make(map[string]struct{})

	for _, pend := range pending {
		for _, c := range candidates {
			if _, ok := used[c.Id]; ok {
				continue
			}
			if c.ClientMsgId != "" && c.ClientMsgId == pend.TempId {
				used[c.Id] = struct{}{}
				matchedTemp[pend.TempId] = struct{}{}
				matches = append(matches, Match{TempId: pend.TempId, MessageId: c.Id, Rule: RuleClientMsgId})
				break
			}
		}
	}

	windowMs := r.window.Milliseconds()
	for _, pend := range pending {
		if _, ok := matchedTemp[pend.TempId]; ok {
			continue
		}
		for _, c := range candidates {
			if _, ok := used[c.Id]; ok {
				continue
			}
			if _, ok := linked[c.ClientMsgId]; ok && c.ClientMsgId != pend.TempId {
				continue
			}
			if c.SenderId != pend.SenderId {
				continue
			}
			if abs(pend.CreatedAt-c.CreatedAt) >= windowMs {
				continue
			}
			equal, exact := textEqual(pend.Text, c.Text)
			if !equal {
				continue
			}
			rule := RuleNormalizedText
			if exact {
				rule = RuleExactText
			}
			used[c.Id] = struct{}{}
			matches = append(matches, Match{TempId: pend.TempId, MessageId: c.Id, Rule: rule})
			break
		}
	}
	return matches
}

// Discard drops a speculative entry that will never be confirmed, such as
// after a failed send. It reports whether the entry was pending.
func (r *Reconciler) Discard(conversationId, tempId string) bool {
	r.mu.Lock()
	conv, ok := r.convs[conversationId]
	if !ok || !conv.removePendingLocked(tempId) {
		r.mu.Unlock()
		return false
	}
	view := conv.viewLocked()
	r.mu.Unlock()

	r.metrics.SpeculativePending(-1)
	r.metrics.SpeculativeDiscarded(1)
	r.updates.Publish(Update{ConversationId: conversationId, Messages: view})
	return true
}

// ClearAll discards every entry at session teardown. Speculative entries
// that never matched are dropped silently.
func (r *Reconciler) ClearAll() {
	r.mu.Lock()
	convs := r.convs
	r.convs = make(map[string]*conversation)
	r.mu.Unlock()

	skew := 0
	ids := make([]string, 0, len(convs))
	for id, conv := range convs {
		skew += len(conv.pending)
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if skew > 0 {
		log.Debug("reconcile discarded unmatched entries: count=%d", skew)
		r.metrics.SpeculativePending(-skew)
		r.metrics.SpeculativeDiscarded(skew)
	}
	for _, id := range ids {
		r.updates.Publish(Update{ConversationId: id})
	}
}

// View returns the merged view: confirmed entries then the remaining
// speculative entries, each ordered by creation time.
func (r *Reconciler) View(conversationId string) []*entity.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[conversationId]
	if !ok {
		return nil
	}
	return conv.viewLocked()
}

// Pending returns the speculative entries still waiting for a match
func (r *Reconciler) Pending(conversationId string) []*entity.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[conversationId]
	if !ok {
		return nil
	}
	out := make([]*entity.Message, 0, len(conv.pending))
	for _, m := range conv.pending {
		out = append(out, m.Clone())
	}
	return out
}

// PendingConversations lists conversations with at least one speculative entry
func (r *Reconciler) PendingConversations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, conv := range r.convs {
		if len(conv.pending) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Updates returns the stream of merged view changes for all conversations
func (r *Reconciler) Updates() *event.Stream[Update] {
	return r.updates
}

// Watch subscribes h to merged view changes of one conversation
func (r *Reconciler) Watch(conversationId string, h func([]*entity.Message)) *event.Subscription {
	return r.updates.Subscribe(func(u Update) {
		if u.ConversationId == conversationId {
			h(u.Messages)
		}
	})
}

func (r *Reconciler) conversationLocked(id string) *conversation {
	conv, ok := r.convs[id]
	if !ok {
		conv = newConversation()
		r.convs[id] = conv
	}
	return conv
}

func (c *conversation) removePendingLocked(tempId string) bool {
	for i, m := range c.pending {
		if m.TempId == tempId {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (c *conversation) viewLocked() []*entity.Message {
	confirmed := make([]*entity.Message, 0, len(c.confirmed))
	for _, m := range c.confirmed {
		confirmed = append(confirmed, m.Clone())
	}
	sort.Slice(confirmed, func(i, j int) bool {
		a, b := confirmed[i], confirmed[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.Id < b.Id
	})

	pending := make([]*entity.Message, 0, len(c.pending))
	for _, m := range c.pending {
		pending = append(pending, m.Clone())
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt < pending[j].CreatedAt
	})

	return append(confirmed, pending...)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
