package storage

import "github.com/pingcap-incubator/txnkv/kv/util/engine_util"

// Modify is a single modification to the engine, a Put or a Delete.
type Modify struct {
	Data interface{}
}

type Put struct {
	Key   []byte
	Value []byte
	Cf    string
}

type Delete struct {
	Key []byte
	Cf  string
}

func (m *Modify) Key() []byte {
	switch m.Data.(type) {
	case Put:
		return m.Data.(Put).Key
	case Delete:
		return m.Data.(Delete).Key
	}
	return nil
}

func (m *Modify) Cf() string {
	switch m.Data.(type) {
	case Put:
		return m.Data.(Put).Cf
	case Delete:
		return m.Data.(Delete).Cf
	}
	return ""
}

// ToWriteBatch converts modifications into an engine write batch, preserving order.
func ToWriteBatch(batch []Modify) *engine_util.WriteBatch {
	wb := new(engine_util.WriteBatch)
	for _, m := range batch {
		switch data := m.Data.(type) {
		case Put:
			wb.SetCF(data.Cf, data.Key, data.Value)
		case Delete:
			wb.DeleteCF(data.Cf, data.Key)
		}
	}
	return wb
}
