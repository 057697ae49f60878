// Package types defines the canonical entities shared by the hub and every
// persistence backend: users with their presence fields, chat messages,
// polls with their options and voter sets, and the error taxonomy the hub
// reports to clients.
//
// JSON tags describe the client wire format (camelCase); bson tags describe
// the document layout used by the MongoDB backend.
package types
