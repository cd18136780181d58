package snapshot

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/noslate-project/alice/internal/domain"
)

// ToProtobufObject serializes the full snapshot into a structpb.Struct
// (spec.md §4.5 "toProtobuf"), the same payload type the data-plane
// gRPC client uses on the wire (no .proto-generated message for this
// control plane's own telemetry exists, so a genuine well-known
// protobuf type is used directly rather than a hand-authored stub).
func (s *Snapshot) ToProtobufObject() (*structpb.Struct, error) {
	brokers := s.Brokers()
	brokerList := make([]interface{}, 0, len(brokers))

	for key, b := range brokers {
		workers := b.Workers()
		workerList := make([]interface{}, 0, len(workers))
		for _, w := range workers {
			entry := map[string]interface{}{
				"name":            w.Name,
				"credential":      w.Credential,
				"disposable":      w.Disposable,
				"containerStatus": w.ContainerStatus().String(),
				"registerTime":    w.RegisterTime.Unix(),
			}
			if stat := w.WorkerData(); stat != nil {
				entry["activeRequestCount"] = stat.ActiveRequestCount
				entry["maxActivateRequests"] = stat.MaxActivateRequests
			}
			if state := w.SupervisorState(); state != nil {
				entry["supervisorState"] = string(*state)
			}
			workerList = append(workerList, entry)
		}

		brokerEntry := map[string]interface{}{
			"functionName": key.FunctionName,
			"isInspector":  key.IsInspector,
			"workerCount":  b.WorkerCount(),
			"workers":      workerList,
		}
		brokerList = append(brokerList, brokerEntry)
	}

	return structpb.NewStruct(map[string]interface{}{
		"brokers": brokerList,
	})
}

// FromProtobufObject rebuilds the register metadata for every worker
// described in a structpb.Struct produced by ToProtobufObject. It is
// used by the round-trip invariant test (spec.md §8 invariant 5); it
// does not reconstruct supervisor/data-plane wiring, only the data
// fields the wire format carries.
func FromProtobufObject(s *structpb.Struct) ([]domain.RegisterMeta, error) {
	var metas []domain.RegisterMeta
	brokersVal, ok := s.Fields["brokers"]
	if !ok {
		return metas, nil
	}
	for _, brokerVal := range brokersVal.GetListValue().GetValues() {
		bs := brokerVal.GetStructValue()
		if bs == nil {
			continue
		}
		functionName := bs.Fields["functionName"].GetStringValue()
		isInspector := bs.Fields["isInspector"].GetBoolValue()
		workersVal, ok := bs.Fields["workers"]
		if !ok {
			continue
		}
		for _, workerVal := range workersVal.GetListValue().GetValues() {
			ws := workerVal.GetStructValue()
			if ws == nil {
				continue
			}
			meta := domain.RegisterMeta{
				FunctionName: functionName,
				IsInspector:  isInspector,
				Name:         ws.Fields["name"].GetStringValue(),
				Credential:   ws.Fields["credential"].GetStringValue(),
				Disposable:   ws.Fields["disposable"].GetBoolValue(),
			}
			if v, ok := ws.Fields["maxActivateRequests"]; ok {
				meta.MaxActivateRequests = int(v.GetNumberValue())
			}
			metas = append(metas, meta)
		}
	}
	return metas, nil
}
