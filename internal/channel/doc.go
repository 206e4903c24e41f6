// Package channel aggregates several message transports into one logical
// channel.
//
// # Outbound
//
// Send wraps a payload in an envelope with a fresh id and hands it to every
// registered transport that is ready:
//
//	ch := channel.New([]channel.Transport{redisT, relayT})
//	id := ch.Send(ctx, "hello")
//
// # Inbound
//
// The channel subscribes to every transport. The first envelope seen for an
// id is emitted to subscribers; later ones with the same id are dropped while
// the id is remembered. That makes redundant paths (the same message arriving
// over Redis and over the relay) look like a single delivery:
//
//	msgs, _ := ch.Subscribe(ctx)
//	for m := range msgs {
//		fmt.Println(m.ID, m.Payload)
//	}
//
// # Dedup window
//
// Ids are remembered for at least the timeout (DefaultTimeout unless
// changed). A sweep every timeout period forgets ids older than the timeout,
// so a repeat becomes eligible for delivery again some time between timeout
// and twice the timeout after the first sighting. SetTimeout(0) turns the
// sweep off: ids are then kept, and suppress repeats, until the sweep is
// re-enabled, which means memory grows with every distinct id.
//
// # Lifecycle
//
// End stops the sweep and detaches from all transports. The channel can be
// reused with Add afterwards, but the sweep stays off until SetTimeout is
// called again.
package channel
