package event

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cexll/linguahome-go/pkg/sandbox"
)

// EventType 表示事件类型，按业务语义划分。
type EventType string

const (
	// Progress channel
	EventProgress   EventType = "progress"
	EventScript     EventType = "script"
	EventExecution  EventType = "execution"
	EventCompletion EventType = "completion"

	// Monitor channel
	EventMetrics EventType = "metrics"
	EventAudit   EventType = "audit"
	EventError   EventType = "error"
)

// Channel 描述 Progress/Monitor 两条物理通道。
type Channel string

const (
	ChannelProgress Channel = "progress"
	ChannelMonitor  Channel = "monitor"
)

var typeToChannel = map[EventType]Channel{
	EventProgress:   ChannelProgress,
	EventScript:     ChannelProgress,
	EventExecution:  ChannelProgress,
	EventCompletion: ChannelProgress,
	EventMetrics:    ChannelMonitor,
	EventAudit:      ChannelMonitor,
	EventError:      ChannelMonitor,
}

// Event 描述一次事件推送。
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	TurnID    string    `json:"turn_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent 构造函数，自动填充 ID/Timestamp。
func NewEvent(typ EventType, sessionID string, data any) Event {
	evt := Event{Type: typ, SessionID: sessionID, Data: data}
	return normalizeEvent(evt)
}

// Validate 检查事件是否符合约束。
func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("event: type is empty")
	}
	if _, ok := typeToChannel[e.Type]; !ok {
		return fmt.Errorf("event: unknown type %q", e.Type)
	}
	return nil
}

// Channel 返回事件所属的物理通道。
func (t EventType) Channel() (Channel, bool) {
	ch, ok := typeToChannel[t]
	return ch, ok
}

func normalizeEvent(evt Event) Event {
	if evt.ID == "" {
		evt.ID = newEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt
}

func newEventID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}

// Pipeline stages reported through ProgressData.Stage.
const (
	StageBuildingContext = "building_context"
	StageGenerating      = "generating"
	StageExtracting      = "extracting"
	StageValidating      = "validating"
	StageExecuting       = "executing"
	StageResponding      = "responding"
)

// ProgressData 描述一次请求处理的阶段信息。
type ProgressData struct {
	Stage   string         `json:"stage"`
	Message string         `json:"message,omitempty"`
	Attempt int            `json:"attempt,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ScriptData 携带通过校验的脚本内容。
type ScriptData struct {
	Source  string `json:"source"`
	Attempt int    `json:"attempt"`
}

// ExecutionData 描述一次沙箱执行的结果。
type ExecutionData struct {
	Outcome  sandbox.Outcome `json:"outcome"`
	Stdout   string          `json:"stdout,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// CompletionData 汇总一次回合的最终结果。
type CompletionData struct {
	Response string          `json:"response"`
	Outcome  sandbox.Outcome `json:"outcome"`
	Attempts int             `json:"attempts"`
}

// ErrorData 对监控/审计友好的错误表示。
type ErrorData struct {
	Message     string `json:"message"`
	Kind        string `json:"kind,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// AuditData 记录设备指令，供监控通道审计。
type AuditData struct {
	ActuatorID int    `json:"actuator_id"`
	Action     string `json:"action"`
	Value      int    `json:"value"`
	OK         bool   `json:"ok"`
}

// channelForType 返回通道（供内部使用）。
func channelForType(t EventType) (Channel, bool) {
	return t.Channel()
}
