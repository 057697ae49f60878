// Package chat is the message channel of the hub: an append-only log of chat
// messages with sender-only edit and delete, plus the typing indicator.
//
// Every mutating method takes a commit callback that runs after the write
// succeeded and before the entity lock is released. The hub passes its
// broadcast there, so fan-out order matches write order for one sender and
// for one message.
package chat
