package system

// Priority bands for loop systems. A program runs higher priorities first;
// systems sharing a priority run in creation order.
const (
	PriorityInput      = 600 // drain external queues
	PriorityPreUpdate  = 500 // react to last frame's results
	PriorityUpdate     = 400 // game logic
	PriorityPostUpdate = 300 // regen, spawn, visibility
	PriorityOutput     = 200 // hand results to collaborators
	PriorityCleanup    = 100 // stage destroys for the flush
)
