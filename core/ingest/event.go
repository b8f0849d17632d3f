package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/easycab/dispatch/core/model"
)

// Kind identifies the lifecycle event carried by a taxi message.
type Kind int

const (
	KindPosition Kind = iota
	KindCompleted
	KindShiftEnd
)

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "posicion"
	case KindCompleted:
		return "completado"
	case KindShiftEnd:
		return "fin_jornada"
	}
	return "unknown"
}

// Event is one parsed taxi message, ready to be applied to the registry.
type Event struct {
	Kind   Kind
	TaxiID int
	Pos    model.Position // valid only for KindPosition
}

// ParseTopic extracts the taxi id and event kind from a taxis/{id}/{leaf}
// topic. Anything else is a protocol fault.
func ParseTopic(topic string) (int, Kind, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "taxis" {
		return 0, 0, fmt.Errorf("unknown topic %q", topic)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid taxi id in topic %q", topic)
	}
	switch parts[2] {
	case "posicion":
		return id, KindPosition, nil
	case "completado":
		return id, KindCompleted, nil
	case "fin_jornada":
		return id, KindShiftEnd, nil
	}
	return 0, 0, fmt.Errorf("unknown topic %q", topic)
}

// ParsePosition decodes an "{x} {y}" payload.
func ParsePosition(payload []byte) (model.Position, error) {
	fields := strings.Fields(string(payload))
	if len(fields) != 2 {
		return model.Position{}, fmt.Errorf("invalid position payload %q", payload)
	}
	x, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.Position{}, fmt.Errorf("invalid position payload %q", payload)
	}
	y, err := strconv.Atoi(fields[1])
	if err != nil {
		return model.Position{}, fmt.Errorf("invalid position payload %q", payload)
	}
	return model.Position{X: x, Y: y}, nil
}
