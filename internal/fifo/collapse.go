package fifo

import (
	"strings"

	"github.com/antirek/lsyncd/internal/delay"
)

// Decision is the outcome of evaluating the collapse rule for an (old, new)
// delay pair.
type Decision int

const (
	// Continue means this pair says nothing about the relationship between
	// od and nd; the scan should move on to the next (older) delay.
	Continue Decision = -1
	// Nullify removes od from the FIFO entirely and drops nd; both vanish
	// (e.g. Create followed by Delete of the same path).
	Nullify Decision = 0
	// Absorb drops nd; od is left exactly as it was.
	Absorb Decision = 1
	// Replace overwrites od's event type with nd's.
	Replace Decision = 2
	// Stack marks nd as blocked by od; both remain in the FIFO.
	Stack Decision = 3
)

// Func evaluates the collapse relationship between an existing FIFO entry
// (od) and an about-to-be-inserted delay (nd). The default table-driven
// implementation is DefaultCollapse; a Sync may be configured with a
// different one to customize collapsing behavior.
type Func func(od, nd *delay.Delay) Decision

// row identifies one of the six symbols the default collapse table is
// indexed by. Move delays contribute two rows: MoveFr for their origin path
// and MoveTo for their destination path.
type row int

const (
	rowAttrib row = iota
	rowModify
	rowCreate
	rowDelete
	rowMoveFr
	rowMoveTo
	rowCount
)

// defaultTable is the 6x6 collapse table. Rows are the old
// delay's symbol, columns the new delay's symbol.
var defaultTable = [rowCount][rowCount]Decision{
	rowAttrib: {rowAttrib: Absorb, rowModify: Replace, rowCreate: Replace, rowDelete: Replace, rowMoveFr: Stack, rowMoveTo: Replace},
	rowModify: {rowAttrib: Absorb, rowModify: Absorb, rowCreate: Replace, rowDelete: Replace, rowMoveFr: Stack, rowMoveTo: Replace},
	rowCreate: {rowAttrib: Absorb, rowModify: Absorb, rowCreate: Absorb, rowDelete: Nullify, rowMoveFr: Stack, rowMoveTo: Replace},
	rowDelete: {rowAttrib: Absorb, rowModify: Absorb, rowCreate: Stack, rowDelete: Absorb, rowMoveFr: Stack, rowMoveTo: Replace},
	rowMoveFr: {rowAttrib: Stack, rowModify: Stack, rowCreate: Stack, rowDelete: Stack, rowMoveFr: Stack, rowMoveTo: Stack},
	rowMoveTo: {rowAttrib: Stack, rowModify: Stack, rowCreate: Replace, rowDelete: Replace, rowMoveFr: Stack, rowMoveTo: Replace},
}

// pathEvent is one path-bearing facet of a delay: most delays contribute
// exactly one, but a Move contributes two (its origin as MoveFr, its
// destination as MoveTo).
type pathEvent struct {
	row  row
	path string
}

func eventsFor(d *delay.Delay) []pathEvent {
	if d.Etype == delay.Move {
		return []pathEvent{
			{row: rowMoveFr, path: d.Path},
			{row: rowMoveTo, path: d.Path2},
		}
	}
	return []pathEvent{{row: etypeRow(d.Etype), path: d.Path}}
}

func etypeRow(e delay.EventType) row {
	switch e {
	case delay.Attrib:
		return rowAttrib
	case delay.Modify:
		return rowModify
	case delay.Create:
		return rowCreate
	case delay.Delete:
		return rowDelete
	default:
		return rowAttrib
	}
}

// isDirPrefix reports whether a is a directory path (trailing slash) that is
// a strict prefix of b.
func isDirPrefix(a, b string) bool {
	return a != b && strings.HasSuffix(a, "/") && strings.HasPrefix(b, a)
}

// DefaultCollapse implements the collapse table and the parent/child
// blocking and active-match rules. For Move delays, it walks
// the (od,nd), (od2,nd), (od,nd2), (od2,nd2) pair order and halts at the
// first pair that yields a decision.
func DefaultCollapse(od, nd *delay.Delay) Decision {
	odEvents := eventsFor(od)
	ndEvents := eventsFor(nd)

	for _, ne := range ndEvents {
		for _, oe := range odEvents {
			if oe.path == ne.path {
				if od.Status == delay.Active {
					return Stack
				}
				return defaultTable[oe.row][ne.row]
			}
			if isDirPrefix(oe.path, ne.path) || isDirPrefix(ne.path, oe.path) {
				return Stack
			}
		}
	}

	return Continue
}
