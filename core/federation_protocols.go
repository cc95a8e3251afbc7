package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// The three reserved request/response protocols this runtime speaks, each
// with its own timeout reflecting how much work the responder is expected
// to do: a bundle handshake is a quick epoch comparison, a replication push
// writes a blob to disk, and a fetch looks one blob up and streams it back.
const (
	ProtoTrustBundle   protocol.ID = "/icn/trustbundle/1.0.0"
	ProtoBlobReplicate protocol.ID = "/icn/blob-replicate/1.0.0"
	ProtoBlobFetch     protocol.ID = "/icn/blob-fetch/1.0.0"
)

const (
	timeoutTrustBundle   = 60 * time.Second
	timeoutBlobReplicate = 120 * time.Second
	timeoutBlobFetch     = 180 * time.Second
)

// BundleSyncRequest asks a peer for every bundle sealed after sinceEpoch.
type BundleSyncRequest struct {
	SinceEpoch uint64
}

// BundleSyncResponse carries the bundles a peer has beyond the requester's
// known epoch, oldest first.
type BundleSyncResponse struct {
	Bundles []TrustBundle
}

// BlobReplicateRequest pushes a blob to a peer unsolicited.
type BlobReplicateRequest struct {
	Data []byte
}

// BlobReplicateResponse acknowledges a replication push.
type BlobReplicateResponse struct {
	CID CID
	OK  bool
}

// BlobFetchRequest asks a peer for the bytes behind a CID.
type BlobFetchRequest struct {
	CID CID
}

// BlobFetchResponse carries the requested bytes, or Found=false if the peer
// does not have them.
type BlobFetchResponse struct {
	Found bool
	Data  []byte
}

// perPeerRateLimit/perPeerBurst bound how often a single remote peer may
// open one of the three reserved streams against this node: steady-state
// requests per second and the short burst allowance on top of it. A bundle
// handshake is cheap but a replicate/fetch can touch disk, so every peer
// gets the same conservative budget regardless of which protocol it calls.
const (
	perPeerRateLimit rate.Limit = 5
	perPeerBurst                = 10
)

// ProtocolServer answers the three reserved protocols against a node's
// local stores. Its handlers are attached to a Node's libp2p host by
// RegisterProtocolServer once the stores exist; registerProtocolHandlers,
// which runs at node construction, attaches nothing.
type ProtocolServer struct {
	Bundles *TrustBundleStore
	Blobs   *BlobStore

	inflightMu sync.Mutex
	inflight   map[string]*inflightFetch

	limiterMu sync.Mutex
	limiters  map[peer.ID]*rate.Limiter
}

// inflightFetch coalesces concurrent local requests for the same CID into a
// single outbound fetch, the same singleflight shape libp2p-adjacent code
// commonly uses to avoid hammering a peer with duplicate requests for
// content multiple local callers want at once.
type inflightFetch struct {
	done chan struct{}
	data []byte
	err  error
}

// NewProtocolServer builds a server bound to the given stores.
func NewProtocolServer(bundles *TrustBundleStore, blobs *BlobStore) *ProtocolServer {
	return &ProtocolServer{
		Bundles:  bundles,
		Blobs:    blobs,
		inflight: make(map[string]*inflightFetch),
		limiters: make(map[peer.ID]*rate.Limiter),
	}
}

// limiterFor returns (creating if necessary) the rate limiter tracking p's
// inbound requests across all three reserved protocols.
func (srv *ProtocolServer) limiterFor(p peer.ID) *rate.Limiter {
	srv.limiterMu.Lock()
	defer srv.limiterMu.Unlock()
	l, ok := srv.limiters[p]
	if !ok {
		l = rate.NewLimiter(perPeerRateLimit, perPeerBurst)
		srv.limiters[p] = l
	}
	return l
}

// allow reports whether s's remote peer is still within its inbound request
// budget, logging and refusing the stream otherwise.
func (srv *ProtocolServer) allow(s network.Stream) bool {
	remote := s.Conn().RemotePeer()
	if !srv.limiterFor(remote).Allow() {
		logrus.Warnf("%s: peer %s exceeded inbound rate limit", s.Protocol(), remote)
		return false
	}
	return true
}

func registerProtocolHandlers(n *Node) {
	// ProtocolServer is wired up by the node's owner (see federation
	// RegisterProtocolServer) once the trust bundle store and blob store
	// exist; the host itself only needs a place to attach handlers.
	_ = n
}

// RegisterProtocolServer attaches srv's handlers to n's libp2p host for all
// three reserved protocols.
func RegisterProtocolServer(n *Node, srv *ProtocolServer) {
	n.Host().SetStreamHandler(ProtoTrustBundle, srv.handleTrustBundleStream)
	n.Host().SetStreamHandler(ProtoBlobReplicate, srv.handleBlobReplicateStream)
	n.Host().SetStreamHandler(ProtoBlobFetch, srv.handleBlobFetchStream)
}

func (srv *ProtocolServer) handleTrustBundleStream(s network.Stream) {
	defer s.Close()
	if !srv.allow(s) {
		return
	}
	_ = s.SetDeadline(time.Now().Add(timeoutTrustBundle))

	var req BundleSyncRequest
	if err := readCanonical(s, &req); err != nil {
		logrus.Warnf("trustbundle: read request: %v", err)
		return
	}

	var resp BundleSyncResponse
	latest := srv.Bundles.LatestEpoch()
	for epoch := req.SinceEpoch + 1; epoch <= latest; epoch++ {
		if b, ok := srv.Bundles.Get(epoch); ok {
			resp.Bundles = append(resp.Bundles, b)
		}
	}
	if err := writeCanonical(s, resp); err != nil {
		logrus.Warnf("trustbundle: write response: %v", err)
	}
}

func (srv *ProtocolServer) handleBlobReplicateStream(s network.Stream) {
	defer s.Close()
	if !srv.allow(s) {
		return
	}
	_ = s.SetDeadline(time.Now().Add(timeoutBlobReplicate))

	var req BlobReplicateRequest
	if err := readCanonical(s, &req); err != nil {
		logrus.Warnf("blob-replicate: read request: %v", err)
		return
	}
	cid, err := srv.Blobs.Put(req.Data)
	resp := BlobReplicateResponse{CID: cid, OK: err == nil}
	if err := writeCanonical(s, resp); err != nil {
		logrus.Warnf("blob-replicate: write response: %v", err)
	}
}

func (srv *ProtocolServer) handleBlobFetchStream(s network.Stream) {
	defer s.Close()
	if !srv.allow(s) {
		return
	}
	_ = s.SetDeadline(time.Now().Add(timeoutBlobFetch))

	var req BlobFetchRequest
	if err := readCanonical(s, &req); err != nil {
		logrus.Warnf("blob-fetch: read request: %v", err)
		return
	}
	data, err := srv.Blobs.Get(req.CID)
	resp := BlobFetchResponse{Found: err == nil, Data: data}
	if err := writeCanonical(s, resp); err != nil {
		logrus.Warnf("blob-fetch: write response: %v", err)
	}
}

// FetchBlob retrieves cid from the local store if present, otherwise opens a
// blob-fetch stream to peer. Concurrent local callers asking for the same
// cid while a fetch is already outstanding share its result instead of each
// opening their own stream.
func FetchBlob(ctx context.Context, n *Node, peer NodeID, blobs *BlobStore, srv *ProtocolServer, cid CID) ([]byte, error) {
	if data, err := blobs.Get(cid); err == nil {
		return data, nil
	}

	key := cid.String()
	srv.inflightMu.Lock()
	if f, ok := srv.inflight[key]; ok {
		srv.inflightMu.Unlock()
		<-f.done
		return f.data, f.err
	}
	f := &inflightFetch{done: make(chan struct{})}
	srv.inflight[key] = f
	srv.inflightMu.Unlock()

	data, err := fetchBlobOverStream(ctx, n, peer, cid)
	if err == nil {
		if _, putErr := blobs.Put(data); putErr != nil {
			err = putErr
		}
	}
	f.data, f.err = data, err
	close(f.done)

	srv.inflightMu.Lock()
	delete(srv.inflight, key)
	srv.inflightMu.Unlock()

	return f.data, f.err
}

func fetchBlobOverStream(ctx context.Context, n *Node, peerID NodeID, cid CID) ([]byte, error) {
	pid, err := decodePeerID(peerID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeoutBlobFetch)
	defer cancel()

	s, err := n.Host().NewStream(ctx, pid, ProtoBlobFetch)
	if err != nil {
		return nil, WrapError(KindTimeout, "open blob-fetch stream", err)
	}
	defer s.Close()
	if err := writeCanonical(s, BlobFetchRequest{CID: cid}); err != nil {
		return nil, err
	}
	var resp BlobFetchResponse
	if err := readCanonical(s, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, WrapError(KindNotFound, fmt.Sprintf("peer does not have blob %s", cid), ErrNotFound)
	}
	return resp.Data, nil
}

func decodePeerID(id NodeID) (peer.ID, error) {
	pid, err := peer.Decode(string(id))
	if err != nil {
		return "", WrapError(KindCodec, "invalid peer id", err)
	}
	return pid, nil
}

// writeCanonical frames v's canonical encoding with a 4-byte big-endian
// length prefix and writes it to w, the same record framing dag.go uses for
// its WAL.
func writeCanonical(w io.Writer, v interface{}) error {
	b, err := Canonical(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return WrapError(KindCodec, "write framed record", err)
	}
	if _, err := w.Write(b); err != nil {
		return WrapError(KindCodec, "write framed record", err)
	}
	return nil
}

// readCanonical reads one length-prefixed canonical record from r into dst.
func readCanonical(r io.Reader, dst interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return WrapError(KindCodec, "read framed record length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return WrapError(KindCodec, "read framed record", err)
	}
	return DecodeCanonical(buf, dst)
}
