// Package harness runs deterministic kiosk scenarios.
//
// A scenario seeds the durable catalog, scripts the backend's answer to
// the bootstrap fetch, then replays push messages and connection changes
// at fixed offsets on a manual clock. The real bootstrapper, catalog and
// engine process them; the harness only observes.
//
// # Scenario Format
//
//	name: dwell_restart
//	description: "A second hit restarts the dwell"
//	field: aisle-7
//	dwell: 3s
//	cache:
//	  - { barcode: "111222", name: "Oat Milk", price: "3.49" }
//	remote:
//	  products:
//	    - { barcode: "111222", name: "Oat Milk" }
//	steps:
//	  - at: 0s
//	    push: { type: productLabel, label: "111222_9" }
//	    expect: { active: "111222" }
//	  - at: 4s
//	    expect: { active: "" }
//	assertions:
//	  - type: trace_count
//	    kind: cleared
//	    count: 1
//
// remote.error may be "rejected" (the backend does not know the field) or
// "unavailable" (transient failure). Steps run in order; their offsets must
// not decrease. Every dwell expiry due before a step's offset fires first,
// at its own deadline.
//
// # Deterministic Traces
//
// The trace records bootstrap, updates, drops, activations and clears
// with offsets from testutil.Epoch. RunWithGolden compares its canonical
// JSON form against testdata/golden/{name}.golden.
package harness
