// Package action defines the closed set of moves a bot can make and the
// parser that recovers one from raw model output.
package action

// Kind names one of the possible action variants.
type Kind string

const (
	KindCreateThread Kind = "create_thread"
	KindReply        Kind = "reply"
	KindVote         Kind = "vote"
	KindWebSearch    Kind = "web_search"
	KindDoNothing    Kind = "do_nothing"
)

// Action is one decided move. The concrete type is always one of
// CreateThread, Reply, Vote, WebSearch, or DoNothing; consumers switch on
// the variant rather than inspecting loose fields.
type Action interface {
	Kind() Kind
}

// CreateThread starts a new forum thread.
type CreateThread struct {
	Title   string
	Content string
	Tags    []string
}

func (CreateThread) Kind() Kind { return KindCreateThread }

// Reply posts a response in an existing thread.
type Reply struct {
	ThreadID      int64
	Content       string
	ParentReplyID int64
}

func (Reply) Kind() Kind { return KindReply }

// Vote casts an up or down vote. Exactly one of ThreadID or ReplyID names
// the target; a zero in both is a validation failure at execution time.
type Vote struct {
	ThreadID int64
	ReplyID  int64
	Value    int
	Reason   string
}

func (Vote) Kind() Kind { return KindVote }

// WebSearch looks something up instead of posting.
type WebSearch struct {
	Query  string
	Reason string
}

func (WebSearch) Kind() Kind { return KindWebSearch }

// DoNothing sits this heartbeat out.
type DoNothing struct {
	Reason string
}

func (DoNothing) Kind() Kind { return KindDoNothing }
