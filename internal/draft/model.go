// Package draft implements the Draft Store: one persisted draft per
// chat, with attachment relocation into the blob directory (spec.md
// §4.2). Grounded on the teacher's internal/draft package — the same
// one-draft-per-owner semantics it already implements for folders,
// generalized here from folder to chat and backed by the shared msgs
// table instead of a dedicated drafts table.
package draft

import "github.com/mtlchat/corechat/internal/message"

// Draft is a thin view over the underlying out-draft message row.
type Draft = message.Message
