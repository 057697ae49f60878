// Package ws implements the WebSocket hub for collabhub-server.
//
// Hub owns the live sessions of one collaboration room and is the only
// component that writes to clients. Each inbound frame is decoded into a
// typed event and routed to the store that owns the entity: presence for
// users, chat for messages, polls for polls. The store returns the updated
// entity through a commit callback, which the hub fans out while the entity
// is still locked, so clients see updates to one entity in the order they
// were applied.
//
// New(deps, cfg) creates a Hub.
// Hub.Run(ctx) pushes dashboard statistics on the configured interval and
// blocks until ctx is cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket and handles its
// frames one at a time until the connection closes.
//
// Every frame in both directions uses the same envelope:
//
//	{
//	  "event": "poll:vote",
//	  "data":  { "pollId": "...", "userId": "...", "optionId": "opt-0" }
//	}
//
// A failed event produces an error event for the originating connection
// only:
//
//	{"event": "error", "data": {"message": "...", "code": "closed", "event": "poll:vote"}}
//
// Browser origins are checked against hub.allowed_origins. The endpoint is
// mounted at /ws by the server.
package ws
