package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/huchijwk/foros/raft/proto"
	"github.com/huchijwk/foros/utils/pd"
)

const codecName = "foros-gob"

// gobCodec lets grpc carry the gob encoded wire records without any
// generated message types.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(pd.Message)
	if !ok {
		return nil, fmt.Errorf("transport: cannot marshal %T", v)
	}
	return pd.Marshal(msg)
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(pd.Message)
	if !ok {
		return fmt.Errorf("transport: cannot unmarshal into %T", v)
	}
	return pd.Unmarshal(msg, data)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

const defaultCallTimeout = time.Second

// GRPC exposes the node's endpoints over gRPC and dials peers lazily
// from a fixed address map. The served endpoints are named
// {namespace}/{node_id}/{service_name}.
type GRPC struct {
	namespace string
	id        uint32

	callTimeout time.Duration

	mu     sync.Mutex
	addrs  map[uint32]string
	server *grpc.Server
	lis    net.Listener
	conns  map[uint32]*grpc.ClientConn
}

// MakeGRPC build a transport for node id. addrs maps every member,
// self included, to its host:port.
func MakeGRPC(namespace string, id uint32, addrs map[uint32]string) *GRPC {
	copied := make(map[uint32]string, len(addrs))
	for node, addr := range addrs {
		copied[node] = addr
	}
	return &GRPC{
		namespace:   namespace,
		id:          id,
		callTimeout: defaultCallTimeout,
		addrs:       copied,
		conns:       make(map[uint32]*grpc.ClientConn),
	}
}

// Addr return the bound listen address, once Serve succeeded. Useful
// when the configured address picked an ephemeral port.
func (t *GRPC) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lis != nil {
		return t.lis.Addr().String()
	}
	return t.addrs[t.id]
}

// Serve implements Transport.
func (t *GRPC) Serve(h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lis, err := net.Listen("tcp", t.addrs[t.id])
	if err != nil {
		return err
	}
	t.lis = lis
	t.addrs[t.id] = lis.Addr().String()

	t.server = grpc.NewServer()
	t.server.RegisterService(t.serviceDesc(), h)
	go func() {
		if err := t.server.Serve(lis); err != nil {
			log.Debugf("%d grpc server stopped: %v", t.id, err)
		}
	}()

	log.Infof("%d serve grpc endpoints at %s", t.id, lis.Addr())
	return nil
}

// serviceDesc hand-rolls the service descriptor; the method set is
// fixed and tiny, so generated stubs buy nothing here.
func (t *GRPC) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: fmt.Sprintf("%s/%d", t.namespace, t.id),
		HandlerType: (*Handler)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: AppendEntriesService, Handler: appendEntriesHandler},
			{MethodName: RequestVoteService, Handler: requestVoteHandler},
			{MethodName: CommitDataService, Handler: commitDataHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "foros/transport",
	}
}

func appendEntriesHandler(srv interface{}, _ context.Context,
	dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(raftpd.AppendEntriesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).OnAppendEntries(req), nil
}

func requestVoteHandler(srv interface{}, _ context.Context,
	dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(raftpd.RequestVoteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).OnRequestVote(req), nil
}

func commitDataHandler(srv interface{}, _ context.Context,
	dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(raftpd.CommitDataRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).OnCommitData(req), nil
}

// AppendEntries implements Transport.
func (t *GRPC) AppendEntries(to uint32, req *raftpd.AppendEntriesRequest) (*raftpd.AppendEntriesResponse, error) {
	resp := new(raftpd.AppendEntriesResponse)
	if err := t.invoke(to, AppendEntriesService, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RequestVote implements Transport.
func (t *GRPC) RequestVote(to uint32, req *raftpd.RequestVoteRequest) (*raftpd.RequestVoteResponse, error) {
	resp := new(raftpd.RequestVoteResponse)
	if err := t.invoke(to, RequestVoteService, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CommitData implements Transport.
func (t *GRPC) CommitData(to uint32, req *raftpd.CommitDataRequest) (*raftpd.CommitDataResponse, error) {
	resp := new(raftpd.CommitDataResponse)
	if err := t.invoke(to, CommitDataService, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *GRPC) invoke(to uint32, service string, req, resp pd.Message) error {
	conn, err := t.conn(to)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.callTimeout)
	defer cancel()

	method := "/" + ServiceName(t.namespace, to, service)
	return conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(codecName))
}

func (t *GRPC) conn(to uint32) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[to]; ok {
		return conn, nil
	}
	addr, ok := t.addrs[to]
	if !ok {
		return nil, fmt.Errorf("transport: unknown node %d", to)
	}

	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	t.conns[to] = conn
	return conn, nil
}

// Close implements Transport.
func (t *GRPC) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.server != nil {
		t.server.Stop()
		t.server = nil
	}
	for node, conn := range t.conns {
		if err := conn.Close(); err != nil {
			log.Debugf("%d close conn to %d: %v", t.id, node, err)
		}
		delete(t.conns, node)
	}
	return nil
}
