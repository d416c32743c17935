// Package record defines the records that flow through a partition log.
//
// This package contains type definitions and codecs only. All other internal
// packages import record; record imports nothing internal.
//
// Key design constraints:
//   - Record values are encoded once, when they are written, and the encoded
//     bytes are what replicas replay
//   - Variable documents use canonical JSON (sorted keys, NFC strings, no floats)
//   - All JSON tags use snake_case
//   - No wall-clock timestamps; ordering comes from log positions only
package record
