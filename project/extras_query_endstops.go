/*
Utility for querying the current state of all endstops

This file may be distributed under the terms of the GNU GPLv3 license.
*/

package project

import (
	"fmt"
	"strings"
)

var endstopStateNames = []string{"open", "TRIGGERED"}

type EndstopState struct {
	Name      string
	Triggered bool
}

// Query_endstops samples every endstop the machine has, X2 last on
// dual carriage machines.
func (self *CartesianMechanics) Query_endstops() []EndstopState {
	states := make([]EndstopState, 0, XYZ+1)
	for axis := 0; axis < XYZ; axis++ {
		states = append(states, EndstopState{
			Name:      strings.ToLower(axisCodes[axis]),
			Triggered: self.endstops.Triggered(axis, 0),
		})
	}
	if self.Dual != nil {
		states = append(states, EndstopState{Name: "x2", Triggered: self.endstops.Triggered(X_AXIS, 1)})
	}
	return states
}

// Report_endstops formats the query the way M119 answers it.
func (self *CartesianMechanics) Report_endstops() string {
	msgArr := []string{}
	for _, state := range self.Query_endstops() {
		code := endstopStateNames[0]
		if state.Triggered {
			code = endstopStateNames[1]
		}
		msgArr = append(msgArr, fmt.Sprintf("%s:%s", state.Name, code))
	}
	return strings.Join(msgArr, " ")
}
