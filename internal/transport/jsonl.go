package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

const maxLineSize = 32 << 20

type jsonlRecord struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JSONLSource replays a newline-delimited stream of {"event":..., "data":...}
// records, such as a captured session log.
type JSONLSource struct {
	ch chan Event
}

// NewJSONLSource starts decoding r in the background. Malformed lines are
// logged and skipped. The event channel closes at EOF or when ctx is done.
func NewJSONLSource(ctx context.Context, r io.Reader) *JSONLSource {
	s := &JSONLSource{ch: make(chan Event, 64)}
	go s.run(ctx, r)
	return s
}

func (s *JSONLSource) Events() <-chan Event { return s.ch }

func (s *JSONLSource) run(ctx context.Context, r io.Reader) {
	defer close(s.ch)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn("Replay: skipping malformed line", "line", line, "err", err)
			continue
		}
		ev, err := DecodeEvent(rec.Event, rec.Data)
		if err != nil {
			log.Warn("Replay: skipping event", "line", line, "event", rec.Event, "err", err)
			continue
		}
		select {
		case s.ch <- ev:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error("Replay: read failed", "line", line, "err", err)
	}
}

// DecodeEvent decodes the data of a named event. List-shaped events accept
// either a bare array or the wrapping object.
func DecodeEvent(name string, data json.RawMessage) (Event, error) {
	switch name {
	case EventContactsUpsert, EventContactsUpdate:
		var ev ContactsUpsert
		err := decodeList(data, &ev.Contacts, &ev)
		return ev, err
	case EventContactsSet:
		var ev ContactsSet
		err := decodeList(data, &ev.Contacts, &ev)
		return ev, err
	case EventChatsUpsert, EventChatsUpdate:
		var ev ChatsUpsert
		err := decodeList(data, &ev.Chats, &ev)
		return ev, err
	case EventChatsSet:
		var ev ChatsSet
		err := decodeList(data, &ev.Chats, &ev)
		return ev, err
	case EventChatsDelete:
		var ev ChatsDelete
		err := decodeList(data, &ev.IDs, &ev)
		return ev, err
	case EventHistorySet:
		var ev HistorySet
		err := json.Unmarshal(data, &ev)
		return ev, err
	case EventMessagesUpsert:
		var ev MessagesUpsert
		err := decodeList(data, &ev.Messages, &ev)
		return ev, err
	case EventMessagesUpdate:
		var ev MessagesUpdate
		err := decodeList(data, &ev.Updates, &ev)
		return ev, err
	case EventMessagesDelete:
		var ev MessagesDelete
		err := decodeList(data, &ev.Keys, &ev)
		return ev, err
	case EventGroupParticipantsUpdate:
		var ev GroupParticipantsUpdate
		err := json.Unmarshal(data, &ev)
		return ev, err
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
}

func decodeList(data json.RawMessage, list any, wrapper any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty payload")
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, list)
	}
	return json.Unmarshal(trimmed, wrapper)
}
