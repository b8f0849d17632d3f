package broker

import "fmt"

// Topic filters consumed by the dispatch server.
const (
	PositionFilter  = "taxis/+/posicion"
	CompletedFilter = "taxis/+/completado"
	ShiftEndFilter  = "taxis/+/fin_jornada"

	// StateTopic carries field-keyed snapshots from the primary to the
	// standby instance.
	StateTopic = "dispatch/state"
)

func PositionTopic(taxiID int) string { return fmt.Sprintf("taxis/%d/posicion", taxiID) }

func CompletedTopic(taxiID int) string { return fmt.Sprintf("taxis/%d/completado", taxiID) }

func ServiceTopic(taxiID int) string { return fmt.Sprintf("taxis/%d/servicio", taxiID) }

func RegistrationTopic(taxiID int) string { return fmt.Sprintf("taxis/%d/registro", taxiID) }

func ShiftEndTopic(taxiID int) string { return fmt.Sprintf("taxis/%d/fin_jornada", taxiID) }
