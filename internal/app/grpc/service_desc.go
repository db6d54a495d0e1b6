package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the audit trail gRPC service.
const ServiceName = "auditchain.v1.AuditTrailService"

// Full method names, as seen by interceptors.
const (
	MethodSealEntry       = "/" + ServiceName + "/SealEntry"
	MethodCreateRecord    = "/" + ServiceName + "/CreateRecord"
	MethodVerifyChain     = "/" + ServiceName + "/VerifyChain"
	MethodVerifyLedger    = "/" + ServiceName + "/VerifyLedger"
	MethodListRecords     = "/" + ServiceName + "/ListRecords"
	MethodVerifySignature = "/" + ServiceName + "/VerifySignature"
	MethodGetPublicKey    = "/" + ServiceName + "/GetPublicKey"
	MethodArchiveLedger   = "/" + ServiceName + "/ArchiveLedger"
)

// AuditTrailServiceServer is the server API. Messages are protobuf Structs
// so any gRPC client can call the service without generated stubs.
type AuditTrailServiceServer interface {
	SealEntry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyChain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyLedger(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListRecords(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifySignature(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPublicKey(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ArchiveLedger(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterAuditTrailServiceServer(s grpc.ServiceRegistrar, srv AuditTrailServiceServer) {
	s.RegisterService(&AuditTrailServiceDesc, srv)
}

// AuditTrailServiceDesc is the grpc.ServiceDesc for AuditTrailService.
var AuditTrailServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuditTrailServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SealEntry", Handler: structHandler(MethodSealEntry, AuditTrailServiceServer.SealEntry)},
		{MethodName: "CreateRecord", Handler: structHandler(MethodCreateRecord, AuditTrailServiceServer.CreateRecord)},
		{MethodName: "VerifyChain", Handler: structHandler(MethodVerifyChain, AuditTrailServiceServer.VerifyChain)},
		{MethodName: "VerifyLedger", Handler: emptyHandler(MethodVerifyLedger, AuditTrailServiceServer.VerifyLedger)},
		{MethodName: "ListRecords", Handler: structHandler(MethodListRecords, AuditTrailServiceServer.ListRecords)},
		{MethodName: "VerifySignature", Handler: structHandler(MethodVerifySignature, AuditTrailServiceServer.VerifySignature)},
		{MethodName: "GetPublicKey", Handler: emptyHandler(MethodGetPublicKey, AuditTrailServiceServer.GetPublicKey)},
		{MethodName: "ArchiveLedger", Handler: emptyHandler(MethodArchiveLedger, AuditTrailServiceServer.ArchiveLedger)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auditchain/v1/audit_trail.proto",
}

type methodFunc[Req any] func(AuditTrailServiceServer, context.Context, *Req) (*structpb.Struct, error)

func unaryHandler[Req any](fullMethod string, call methodFunc[Req]) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(AuditTrailServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func structHandler(fullMethod string, call methodFunc[structpb.Struct]) grpc.MethodHandler {
	return unaryHandler(fullMethod, call)
}

func emptyHandler(fullMethod string, call methodFunc[emptypb.Empty]) grpc.MethodHandler {
	return unaryHandler(fullMethod, call)
}
