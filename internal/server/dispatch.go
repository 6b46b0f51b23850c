package server

import (
	"github.com/segmentdb/segment/internal/command"
	"github.com/segmentdb/segment/internal/protocol"
	"github.com/segmentdb/segment/internal/store"
)

// execute runs cmd against db and returns the reply frame to send back to
// the client. It never returns a Go error: command-level failures (unknown
// keyspace, etc.) are represented as an Error frame, matching the wire
// protocol's own error representation.
func execute(db *store.Database, cmd command.Command) protocol.Frame {
	switch cmd.Kind {
	case command.KindCreate:
		return db.Create(cmd.Keyspace, cmd.Evictor, cmd.IfNotExists)
	case command.KindDrop:
		return db.Drop(cmd.Keyspace, cmd.IfExists)
	case command.KindKeyspaces:
		return db.Keyspaces()
	case command.KindSet:
		return db.Set(cmd.Keyspace, cmd.Key, cmd.Value, cmd.ExpireAt, cmd.IfExists, cmd.IfNotExists)
	case command.KindGet:
		return db.Get(cmd.Keyspace, cmd.Key)
	case command.KindDel:
		return db.Del(cmd.Keyspace, cmd.Key)
	case command.KindCount:
		return db.Count(cmd.Keyspace)
	case command.KindTtl:
		return db.Ttl(cmd.Keyspace, cmd.Key)
	case command.KindPing:
		return db.Ping()
	default:
		return protocol.Err("unknown command")
	}
}
