package component

import "github.com/milk9111/labyrinth/nav"

// Navigation binds an entity to its navigator.
type Navigation struct {
	Nav *nav.Navigator
	// Last is the most significant event of the latest tick.
	Last nav.Event
}

var NavigationComponent = NewComponent[Navigation]()
