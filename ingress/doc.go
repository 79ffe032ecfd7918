// Package ingress consumes domain triggers from the NATS bus and fans
// them into the reactor queue. Decoding and expansion run on a bounded
// worker pool so a burst of triggers degrades by dropping, with a
// counter, rather than by backpressuring the bus subscription.
package ingress
