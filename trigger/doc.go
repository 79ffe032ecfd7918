// Package trigger maps domain events to the metric recomputations they
// cause. A trigger is transient: it arrives on the bus, expands to an
// ordered list of jobs, and is handed to the reactor queue, where
// duplicates collapse. Dated cascades cover today through the planning
// horizon unless the trigger names a specific date.
package trigger
