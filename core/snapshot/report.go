package snapshot

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteReport renders the operator-facing text report. Apart from the
// header timestamp the output is fully determined by the state, so two
// captures of identical state render identically.
func (s State) WriteReport(w io.Writer) error {
	var b strings.Builder
	b.WriteString("=== EasyCab dispatch report ===\n")
	fmt.Fprintf(&b, "Saved at: %s\n\n", s.SavedAt.Format(time.RFC3339))

	for i := range s.Taxis {
		t := &s.Taxis[i]
		fmt.Fprintf(&b, "Taxi %d\n", t.ID)
		fmt.Fprintf(&b, "    Initial position: %s\n", t.InitialPos)
		b.WriteString("    Position history:")
		for _, p := range t.Positions {
			fmt.Fprintf(&b, " %s", p)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "    Completed services: %d\n", t.Completed)
		b.WriteString("    Assigned services:\n")
		for _, a := range t.Services {
			fmt.Fprintf(&b, "        %s -> %s (user %d)\n", a.TaxiPos, a.RiderPos, a.RiderID)
		}
		fmt.Fprintf(&b, "    Available: %t\n\n", t.Available)
	}

	fmt.Fprintf(&b, "Total services accepted: %d\n", s.AcceptedServices)
	fmt.Fprintf(&b, "Total requests denied: %d\n", s.DeniedRequests)

	_, err := io.WriteString(w, b.String())
	return err
}

// AppendShutdownFooter writes the stopped-at line added when the server
// exits, mirroring the closing entry of the interaction file.
func AppendShutdownFooter(w io.Writer, at time.Time) error {
	_, err := fmt.Fprintf(w, "Server stopped at %s\n", at.Format(time.RFC3339))
	return err
}
