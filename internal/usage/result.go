package usage

// Result is the closed set of tool outputs. Every query returns exactly one
// of the variants below; callers switch on the concrete type instead of
// probing optional fields.
type Result interface {
	result()
}

// Text is a plain-prose result, including the explicit "no data" answers.
type Text struct {
	Message string
}

// Table is a tabular result plus an optional chart-readiness hint.
// Rows carry one value per column in ValueNames, aligned on Key.
type Table struct {
	Summary    string
	KeyName    string // axis name: "date", "day", "time", "month"
	ValueNames []string
	Rows       []Row
	Chart      *Chart
}

// Row is one keyed entry of a Table.
type Row struct {
	Key    string
	Values []float64
}

// Chart hints how the UI should render a Table.
type Chart struct {
	Kind  string // "BarChart", "LineChart", "Compare-LineChart"
	XKey  string
	Label string
}

func (*Text) result()  {}
func (*Table) result() {}
