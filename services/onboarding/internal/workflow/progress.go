package workflow

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
)

type StepProgress struct {
	Label  string
	Status StepStatus
}

// Progress is the indicator shown above each page. Current is 1-based and
// 0 when the route is outside the three visible steps.
type Progress struct {
	Current int
	Steps   []StepProgress
}

var stepLabels = []string{"Registration", "Upload IC / Document", "Link to Account"}

var routeStep = map[Route]int{
	RouteRegistration:    1,
	RouteFaceScan:        1,
	RouteUploadDocuments: 2,
	RouteLinkAccount:     3,
	RouteSuccess:         len(stepLabels) + 1,
}

// ProgressFor derives the indicator from the route alone.
func ProgressFor(r Route) Progress {
	current := routeStep[r]
	steps := make([]StepProgress, len(stepLabels))
	for i, label := range stepLabels {
		n := i + 1
		status := StepPending
		switch {
		case current > n:
			status = StepCompleted
		case current == n:
			status = StepActive
		}
		steps[i] = StepProgress{Label: label, Status: status}
	}
	if current > len(stepLabels) {
		current = len(stepLabels)
	}
	return Progress{Current: current, Steps: steps}
}
