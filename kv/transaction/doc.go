package transaction

// The transaction package implements the node's transactional command layer. It takes incoming requests from
// kv/server/server.go as input and turns them into reads and writes of the region storage
// (kv/storage/region_storage). The storage checks that the node still leads the region a request was addressed to;
// the transaction layer translates high-level commands into raw key/value modifications, schedules them to run
// concurrently, and makes sure commands touching the same keys do not interfere.
//
// There are two kinds of transactions in play. Client transactions (Percolator style, driven by e.g. a SQL layer) are
// collaborative between this node and its client and span multiple commands: prewrite, commit, rollback, cleanup
// and resolve lock. Mvcc transactions (MvccTxn in mvcc/transaction.go) are an implementation detail of this layer;
// they make each *single* command atomic.
//
// *Locks* implement client transactions. Setting or checking a lock is lowered to writing or reading a key in the
// lock column family.
//
// *Latches* implement mvcc transactions and are not visible to the client. They live in memory, outside the storage.
// See the latches package for details.
//
// The scheduler package runs commands. Each command is a type implementing `commands.Command`. The scheduler takes
// the latches of the keys a command will write, waits for a snapshot of the command's region, runs the command on a
// worker pool, writes the result back through the storage and delivers exactly one Result to the caller. A command
// that can not know its keys up front (resolve lock) runs a read phase first and is latched afterwards.
//
// ## Encoding user key/values
//
// The mvcc strategy is to store all data (committed and uncommitted) at every point in time. If a key is written twice,
// both values are kept.
//
// User keys are encoded with a timestamp (see kv/util/codec). The encoding is memcomparable and the timestamp is
// stored inverted, so versions of one key sort newest first.
//
// Locking a key means writing into the `lock` CF, keyed by the user key (so a key is locked for all timestamps). The
// value holds the primary key of the transaction, the kind of lock (put, delete or lock), the start timestamp, the
// ttl and, for a short put, the value itself. See mvcc/lock.go.
//
// The status of values is stored in the `write` CF. Keys are encoded with their commit timestamp and map to the
// transaction's start timestamp, the kind of write (put, delete, rollback or lock) and, for a short put, the value.
// Rolled back transactions use their start timestamp as the commit timestamp. Values too long to be inlined live in
// the `default` CF keyed by the start timestamp.
