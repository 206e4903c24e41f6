// Package memory provides an in-process transport.
//
// A standalone Transport echoes what it sends back to its own subscribers
// after a delay, which is enough to exercise a channel's duplicate
// suppression with several transports of different latency. Transports that
// share a Bus deliver to each other, which models several processes (or
// several channels in one process) on a common medium.
package memory
