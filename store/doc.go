// Persistent-state-layout contract (not implemented here; Non-goal per
// spec.md — BitChat core is transport/protocol scoped, not a storage
// product):
//
// An embedding application that wants messages to survive restart
// implements this same surface (Insert/GetByHash/ListConversation/Recent)
// against durable storage. The content-addressing scheme in this package
// (SHA-256 of canonical plaintext, sorted-peer-pair conversation ids) is
// the stable contract such a backend must preserve: hashes and
// conversation ids computed by Store must match byte-for-byte if the two
// representations are ever compared or migrated between.
package store
