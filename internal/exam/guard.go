package exam

// NavigationGuard decides how destructive browser navigation is handled
// while an exam is in progress. It is engaged exactly while the controller
// is IN_PROGRESS and releases as soon as the session is submitted or gone.
type NavigationGuard struct {
	controller *Controller
}

// NewNavigationGuard binds a guard to a controller.
func NewNavigationGuard(c *Controller) *NavigationGuard {
	return &NavigationGuard{controller: c}
}

// Engaged reports whether navigation must currently be intercepted.
func (g *NavigationGuard) Engaged() bool {
	return g.controller.State() == StateInProgress
}

// UnloadDecision is the verdict for a page unload or reload attempt.
type UnloadDecision struct {
	// Prompt asks the UI to warn and require confirmation before leaving.
	Prompt bool `json:"prompt"`
	// Allow permits the unload without interception.
	Allow bool `json:"allow"`
}

// OnUnload evaluates a leave/reload attempt. Leaving an active session
// always requires confirmation.
func (g *NavigationGuard) OnUnload() UnloadDecision {
	if !g.Engaged() {
		return UnloadDecision{Allow: true}
	}
	return UnloadDecision{Prompt: true}
}

// BackDecision is the verdict for a back-navigation attempt.
type BackDecision struct {
	// Repush tells the UI to re-push the current location so the native
	// history stack never takes over; the persisted draft is the source of
	// truth, not browser history.
	Repush bool `json:"repush"`
	// Prompt asks the UI to confirm abandoning the exam.
	Prompt bool `json:"prompt"`
	// LeaveViaApp means a confirmed leave must go through the app's own
	// routing, never the browser's history pop.
	LeaveViaApp bool `json:"leave_via_app"`
}

// OnBack evaluates a back-navigation attempt. While engaged the current
// location is re-pushed unconditionally, even if the trainee confirms.
func (g *NavigationGuard) OnBack() BackDecision {
	if !g.Engaged() {
		return BackDecision{}
	}
	return BackDecision{Repush: true, Prompt: true, LeaveViaApp: true}
}
