// Package recipe holds brew recipe definitions and their YAML file storage.
//
// A recipe is an ordered list of steps. Each step may run auxiliary
// activators (each a configurable number of times) followed by an optional
// beverage. The file format accepts the older step shapes
// (switch_counts map, switches list, single switch) and normalises them
// into Step.Activators at load time, so nothing downstream ever branches
// on the raw format.
//
// Example file:
//
//	recipes:
//	  morning:
//	    name: "Morning"
//	    description: "Rinse, then a double espresso"
//	    steps:
//	      - switch_counts:
//	          switch.coffee_rinse: 1
//	      - drink: "Espresso"
//	        double: true
//	        timeout: 180
//
// The Registry caches recipes in memory and hands out deep copies, so a
// run never observes edits made while it is in progress.
package recipe
