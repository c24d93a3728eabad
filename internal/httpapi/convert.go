package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/keyway/internal/keyway/service"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// ── Unlock (protobuf) ────────────────────────────────────────────────────────

// unlockRequestFromProto reads {"code", "resourceId"} from a Struct.
// "resource_id" is accepted for readers that use snake case.
func unlockRequestFromProto(p *structpb.Struct) types.UnlockRequest {
	f := p.GetFields()
	req := types.UnlockRequest{
		Code:       f["code"].GetStringValue(),
		ResourceID: f["resourceId"].GetStringValue(),
	}
	if req.ResourceID == "" {
		req.ResourceID = f["resource_id"].GetStringValue()
	}
	return req
}

func unlockResponseToProto(r types.UnlockResponse) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"success": structpb.NewBoolValue(r.Success),
		"resource": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":      structpb.NewStringValue(r.Resource.ID),
			"name":    structpb.NewStringValue(r.Resource.Name),
			"address": structpb.NewStringValue(r.Resource.Address),
		}}),
		"subject": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id": structpb.NewStringValue(r.Subject.ID),
		}}),
		"timestamp": structpb.NewStringValue(r.Timestamp),
	}}
}

func errorToProto(reason, message string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"error":   structpb.NewStringValue(reason),
		"message": structpb.NewStringValue(message),
	}}
}

// ── Domain → wire ────────────────────────────────────────────────────────────

func accessResponse(ic types.IssuedCredential, res types.Resource) types.AccessResponse {
	return types.AccessResponse{
		Credential: ic,
		Resource:   res.Summary(),
		ExpiresAt:  ic.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func unlockResponse(r service.RedemptionResult) types.UnlockResponse {
	return types.UnlockResponse{
		Success:   r.Success,
		Resource:  r.Resource,
		Subject:   r.Subject,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// ── JSON helpers ─────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: reason, Message: message})
}
