package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/id"
	"github.com/martingalian/stride/step"
)

type stepModel struct {
	bun.BaseModel `bun:"table:stride_steps"`

	ID             string     `bun:"id,pk"`
	Class          string     `bun:"class,notnull"`
	Arguments      []byte     `bun:"arguments,type:jsonb"`
	State          string     `bun:"state,notnull,default:'pending'"`
	Queue          string     `bun:"queue,notnull,default:'default'"`
	Group          string     `bun:"group_name,notnull,default:'default'"`
	DispatchAfter  time.Time  `bun:"dispatch_after,notnull,default:current_timestamp"`
	Retries        int        `bun:"retries,notnull,default:0"`
	MaxRetries     int        `bun:"max_retries,notnull,default:3"`
	DoubleCheck    int        `bun:"double_check,notnull,default:0"`
	ExecMode       string     `bun:"execution_mode,notnull,default:'normal'"`
	Timeout        int64      `bun:"timeout,notnull,default:0"`
	BlockUUID      string     `bun:"block_uuid"`
	ChildBlockUUID string     `bun:"child_block_uuid"`
	Index          int        `bun:"block_index,notnull,default:1"`
	Type           string     `bun:"type,notnull,default:'default'"`
	Response       []byte     `bun:"response,type:jsonb"`
	ErrorMessage   string     `bun:"error_message"`
	ErrorStack     string     `bun:"error_stack_trace"`
	RelatableKind  string     `bun:"relatable_kind"`
	RelatableID    string     `bun:"relatable_id"`
	StartedAt      *time.Time `bun:"started_at"`
	CompletedAt    *time.Time `bun:"completed_at"`
	Duration       int64      `bun:"duration,notnull,default:0"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toStepModel(st *step.Step) *stepModel {
	m := &stepModel{
		ID:             st.ID.String(),
		Class:          st.Class,
		Arguments:      st.Arguments,
		State:          string(st.State),
		Queue:          st.Queue,
		Group:          st.Group,
		DispatchAfter:  st.DispatchAfter,
		Retries:        st.Retries,
		MaxRetries:     st.MaxRetries,
		DoubleCheck:    st.DoubleCheck,
		ExecMode:       string(st.ExecMode),
		Timeout:        st.Timeout.Nanoseconds(),
		ChildBlockUUID: st.ChildBlockUUID.String(),
		Index:          st.Index,
		Type:           string(st.Type),
		Response:       st.Response,
		ErrorMessage:   st.ErrorMessage,
		ErrorStack:     st.ErrorStackTrace,
		StartedAt:      st.StartedAt,
		CompletedAt:    st.CompletedAt,
		Duration:       st.Duration.Nanoseconds(),
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      st.UpdatedAt,
	}
	if st.BlockUUID != uuid.Nil {
		m.BlockUUID = st.BlockUUID.String()
	}
	if st.Relatable != nil {
		m.RelatableKind = st.Relatable.Kind
		m.RelatableID = st.Relatable.ID
	}
	return m
}

func fromStepModel(m *stepModel) (*step.Step, error) {
	parsedID, err := id.ParseStepID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: parse step id %q: %w", m.ID, err)
	}

	st := &step.Step{
		Entity: stride.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              parsedID,
		Class:           m.Class,
		Arguments:       json.RawMessage(m.Arguments),
		State:           step.State(m.State),
		Queue:           m.Queue,
		Group:           m.Group,
		DispatchAfter:   m.DispatchAfter,
		Retries:         m.Retries,
		MaxRetries:      m.MaxRetries,
		DoubleCheck:     m.DoubleCheck,
		ExecMode:        step.ExecMode(m.ExecMode),
		Timeout:         time.Duration(m.Timeout),
		Index:           m.Index,
		Type:            step.Type(m.Type),
		Response:        json.RawMessage(m.Response),
		ErrorMessage:    m.ErrorMessage,
		ErrorStackTrace: m.ErrorStack,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		Duration:        time.Duration(m.Duration),
	}

	if m.BlockUUID != "" {
		st.BlockUUID, _ = uuid.Parse(m.BlockUUID) //nolint:errcheck // best-effort parse from trusted DB data
	}
	if m.ChildBlockUUID != "" {
		st.ChildBlockUUID, _ = uuid.Parse(m.ChildBlockUUID) //nolint:errcheck // best-effort parse from trusted DB data
	}
	if m.RelatableKind != "" {
		st.Relatable = step.NewRef(m.RelatableKind, m.RelatableID)
	}

	return st, nil
}
