package domain

import "time"

// Command is raw operator input as received by the gateway.
type Command struct {
	Text       string
	ClientID   string
	Route      string
	ReceivedAt time.Time
}

type CommandKind string

const (
	KindGreeting                 CommandKind = "greeting"
	KindStatusQuery              CommandKind = "status_query"
	KindToolOperation            CommandKind = "tool_operation"
	KindToolOperationWithContext CommandKind = "tool_operation_with_context"
	KindStaticInfo               CommandKind = "static_info"
	KindRefused                  CommandKind = "refused"
	KindRetrievalQuery           CommandKind = "retrieval_query"
)

// ParsedCommand is a closed union; only types in this package implement it.
type ParsedCommand interface {
	Kind() CommandKind
	sealed()
}

type Greeting struct{}

type StatusQuery struct {
	Text string
}

type ToolOperation struct {
	Name string
	Args map[string]string
}

type ToolOperationWithContext struct {
	Name  string
	Args  map[string]string
	Query string
}

type StaticInfoTopic string

const (
	InfoHelp    StaticInfoTopic = "help"
	InfoTime    StaticInfoTopic = "time"
	InfoDate    StaticInfoTopic = "date"
	InfoHealth  StaticInfoTopic = "health"
	InfoVersion StaticInfoTopic = "version"
)

type StaticInfo struct {
	Topic StaticInfoTopic
}

type Refused struct {
	Reason string
}

type RetrievalQuery struct {
	Text string
}

func (Greeting) Kind() CommandKind                 { return KindGreeting }
func (StatusQuery) Kind() CommandKind              { return KindStatusQuery }
func (ToolOperation) Kind() CommandKind            { return KindToolOperation }
func (ToolOperationWithContext) Kind() CommandKind { return KindToolOperationWithContext }
func (StaticInfo) Kind() CommandKind               { return KindStaticInfo }
func (Refused) Kind() CommandKind                  { return KindRefused }
func (RetrievalQuery) Kind() CommandKind           { return KindRetrievalQuery }

func (Greeting) sealed()                 {}
func (StatusQuery) sealed()              {}
func (ToolOperation) sealed()            {}
func (ToolOperationWithContext) sealed() {}
func (StaticInfo) sealed()               {}
func (Refused) sealed()                  {}
func (RetrievalQuery) sealed()           {}
