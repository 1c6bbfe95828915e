package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/rewired-gh/robotd/internal/config"
	"github.com/rewired-gh/robotd/internal/logger"
	"github.com/rewired-gh/robotd/internal/models"
)

// nodeReader is the subset of *opcua.Client used by OPCUA.
type nodeReader interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
}

// nodeRole identifies which raw field a node value feeds.
type nodeRole int

const (
	roleVelocity nodeRole = iota
	roleDistance
	roleTemperature
	rolePalletID
	roleCentroidX
	roleCentroidY
	roleCentroidZ
)

type boundNode struct {
	nodeID  *ua.NodeID
	raw     string
	role    nodeRole
	motorID int
}

// OPCUA reads one snapshot per call from an OPC UA server using a single
// batched Read request. The session is opened lazily and dropped after a
// failed read so the next cycle reconnects.
type OPCUA struct {
	cfg   config.OPCUAConfig
	nodes []boundNode

	mu     sync.Mutex
	client *opcua.Client
	reader nodeReader
	dial   func(ctx context.Context) (*opcua.Client, error)
}

// NewOPCUA parses the configured node ids. It does not connect.
func NewOPCUA(cfg config.OPCUAConfig) (*OPCUA, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("opcua endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	nodes, err := bindNodes(cfg)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errors.New("at least one opcua node must be configured")
	}

	o := &OPCUA{cfg: cfg, nodes: nodes}
	o.dial = o.connect
	return o, nil
}

func bindNodes(cfg config.OPCUAConfig) ([]boundNode, error) {
	var nodes []boundNode
	add := func(raw string, role nodeRole, motorID int) error {
		id, err := ua.ParseNodeID(raw)
		if err != nil {
			return fmt.Errorf("parse node id %q: %w", raw, err)
		}
		nodes = append(nodes, boundNode{nodeID: id, raw: raw, role: role, motorID: motorID})
		return nil
	}

	for _, m := range cfg.Motors {
		if err := add(m.VelocityNode, roleVelocity, m.ID); err != nil {
			return nil, err
		}
		if err := add(m.DistanceNode, roleDistance, m.ID); err != nil {
			return nil, err
		}
		if err := add(m.TemperatureNode, roleTemperature, m.ID); err != nil {
			return nil, err
		}
	}
	if cfg.Pallet.IDNode != "" {
		if err := add(cfg.Pallet.IDNode, rolePalletID, 0); err != nil {
			return nil, err
		}
	}
	if cfg.Centroid.XNode != "" {
		for _, n := range []struct {
			raw  string
			role nodeRole
		}{
			{cfg.Centroid.XNode, roleCentroidX},
			{cfg.Centroid.YNode, roleCentroidY},
			{cfg.Centroid.ZNode, roleCentroidZ},
		} {
			if err := add(n.raw, n.role, 0); err != nil {
				return nil, err
			}
		}
	}
	return nodes, nil
}

// Read implements Source.
func (o *OPCUA) Read(ctx context.Context) (*models.RawSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reader == nil {
		client, err := o.dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrAcquisition, err)
		}
		o.client = client
		o.reader = client
	}

	rctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req := &ua.ReadRequest{
		MaxAge:             0,
		NodesToRead:        make([]*ua.ReadValueID, len(o.nodes)),
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	}
	for i, n := range o.nodes {
		req.NodesToRead[i] = &ua.ReadValueID{NodeID: n.nodeID, AttributeID: ua.AttributeIDValue}
	}

	resp, err := o.reader.Read(rctx, req)
	if err != nil {
		o.resetLocked()
		return nil, fmt.Errorf("%w: opcua read: %v", models.ErrAcquisition, err)
	}

	raw, err := o.assemble(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAcquisition, err)
	}
	return raw, nil
}

// assemble maps the batched response back onto the raw model, in node order.
func (o *OPCUA) assemble(resp *ua.ReadResponse) (*models.RawSnapshot, error) {
	if resp == nil || len(resp.Results) != len(o.nodes) {
		return nil, fmt.Errorf("opcua read returned %d results for %d nodes", resultCount(resp), len(o.nodes))
	}

	raw := &models.RawSnapshot{}
	motorIdx := make(map[int]int)
	motor := func(id int) *models.RawMotor {
		i, ok := motorIdx[id]
		if !ok {
			raw.Motors = append(raw.Motors, models.RawMotor{ID: id})
			i = len(raw.Motors) - 1
			motorIdx[id] = i
		}
		return &raw.Motors[i]
	}

	for i, dv := range resp.Results {
		n := o.nodes[i]
		if dv == nil || dv.Status != ua.StatusOK {
			status := ua.StatusBad
			if dv != nil {
				status = dv.Status
			}
			return nil, fmt.Errorf("node %s: %s", n.raw, status)
		}
		v, ok := variantToFloat(dv.Value)
		if !ok {
			return nil, fmt.Errorf("node %s: unsupported value type %s", n.raw, variantType(dv.Value))
		}

		switch n.role {
		case roleVelocity:
			motor(n.motorID).Velocity = v
		case roleDistance:
			motor(n.motorID).CM = v
		case roleTemperature:
			motor(n.motorID).Temperature = v
		case rolePalletID:
			ts := dv.SourceTimestamp
			if ts.IsZero() {
				ts = dv.ServerTimestamp
			}
			if ts.IsZero() {
				ts = time.Now()
			}
			raw.Pallets = append(raw.Pallets, models.RawPallet{
				IDPallet:     int(v),
				TimestampRaw: ts.UTC().Format(time.RFC3339Nano),
			})
		case roleCentroidX:
			raw.Centroid.CentroidX = v
		case roleCentroidY:
			raw.Centroid.CentroidY = v
		case roleCentroidZ:
			raw.Centroid.CentroidZ = v
		}
	}
	return raw, nil
}

// Close ends the OPC UA session if one is open.
func (o *OPCUA) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client == nil {
		o.reader = nil
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.client.Close(ctx)
	o.client = nil
	o.reader = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (o *OPCUA) resetLocked() {
	if o.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := o.client.Close(ctx); err != nil {
			logger.Debug("opcua: close after failed read: %v", err)
		}
		cancel()
	}
	o.client = nil
	o.reader = nil
}

func (o *OPCUA) connect(ctx context.Context) (*opcua.Client, error) {
	client, err := opcua.NewClient(o.cfg.Endpoint, o.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	if err := client.Connect(cctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}
	logger.Info("Connected to OPC UA server %s", o.cfg.Endpoint)
	return client, nil
}

func (o *OPCUA) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(o.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(o.cfg.SecurityPolicy)),
		opcua.ApplicationName("robotd"),
		opcua.RequestTimeout(o.cfg.Timeout),
	}
	if o.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(o.cfg.Username, o.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func resultCount(resp *ua.ReadResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Results)
}

func variantType(v *ua.Variant) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v.Value())
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}
