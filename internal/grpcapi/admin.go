package grpcapi

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/audit"
)

// Admin RPCs use well-known protobuf types so no generated code is needed.
// Clients call them with grpc.ClientConn.Invoke.
const (
	MethodGetInfo    = adminMethodPrefix + "GetInfo"
	MethodQueryAudit = adminMethodPrefix + "QueryAudit"
)

type adminService interface {
	GetInfo(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	QueryAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type adminServer struct {
	srv *Server
}

func (a *adminServer) GetInfo(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{
		"name":    serviceName,
		"version": a.srv.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, toStatus(apierr.Internal(err))
	}
	return out, nil
}

// QueryAudit accepts userId, entityType, entityId, limit and offset and
// returns {"total": n, "entries": [...]}, newest first.
func (a *adminServer) QueryAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if a.srv.audit == nil {
		return nil, toStatus(apierr.NotFound("Audit log"))
	}
	f := audit.Filter{}
	if in != nil {
		fields := in.GetFields()
		f.ActorID = fields["userId"].GetStringValue()
		f.EntityType = fields["entityType"].GetStringValue()
		f.EntityID = fields["entityId"].GetStringValue()
		f.Limit = int(fields["limit"].GetNumberValue())
		f.Offset = int(fields["offset"].GetNumberValue())
	}
	details := map[string]any{}
	if f.Limit < 0 || f.Limit > 100 {
		details["limit"] = "limit must be between 1 and 100"
	}
	if f.Offset < 0 {
		details["offset"] = "offset must be a non-negative integer"
	}
	if len(details) > 0 {
		return nil, toStatus(apierr.InvalidInput("Validation failed", details))
	}
	entries, total, err := a.srv.audit.Query(ctx, f)
	if err != nil {
		return nil, toStatus(apierr.Internal(err))
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, toStatus(apierr.Internal(err))
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, toStatus(apierr.Internal(err))
	}
	if list == nil {
		list = []any{}
	}
	out, err := structpb.NewStruct(map[string]any{"total": total, "entries": list})
	if err != nil {
		return nil, toStatus(apierr.Internal(err))
	}
	return out, nil
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "inkwell.admin.v1.Admin",
	HandlerType: (*adminService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetInfo", Handler: getInfoHandler},
		{MethodName: "QueryAudit", Handler: queryAuditHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inkwell/admin/v1/admin.proto",
}

func getInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(adminService).GetInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetInfo}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(adminService).GetInfo(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func queryAuditHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(adminService).QueryAudit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodQueryAudit}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(adminService).QueryAudit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
