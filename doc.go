package txnkv

/*
TxnKV is the transactional command layer of a distributed key/value node. Requests arrive as kvrpcpb messages, become
commands, and are run by a scheduler that serializes commands touching the same keys with latches, reads through a
region-bound snapshot, and writes the result back in one atomic batch. Transactions follow the Percolator model: a
client prewrites every key of a transaction, then commits the primary key and finally the secondaries.

The `txnkv` module is organized into the following packages:

* `kv/config`: node configuration, read from TOML.
* `kv/region`: the region router. It owns region meta (range, epoch, peers, leader, term) and checks that requests were
  routed with up to date information.
* `kv/storage`: the engine interface, an in-memory engine and persistent engines on badger, pebble and leveldb.
  `region_storage` binds engine reads and writes to regions.
* `kv/transaction`: latches, the scheduler, MVCC encoding and the transactional and raw commands.
* `kv/importer`: bulk load of pre-built key/value files into a region.
* `kv/server`: the request boundary that maps commands and their results to and from kvrpcpb.
* `kv/txnkv-server`: the node binary.
* `kv/util`: codecs, column family helpers, a task worker and file helpers.
*/
