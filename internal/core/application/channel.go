package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/paychan-labs/paychand/internal/core/domain"
	"github.com/paychan-labs/paychand/internal/core/ports"
	"github.com/paychan-labs/paychand/pkg/paychan"
)

// ChannelOpts configures one escrow direction. Every field is validated at
// construction; nothing is deferred to first use.
type ChannelOpts struct {
	Direction domain.ChannelDirection
	LocalKey  *paychan.KeyMaterial
	PeerKey   *paychan.KeyMaterial
	Timeout   int64
	Capacity  uint64 // funding target, outgoing channels only
	Fee       uint64
	Net       *chaincfg.Params
}

func (o ChannelOpts) validate() error {
	if o.LocalKey == nil || !o.LocalKey.CanSign() {
		return fmt.Errorf("%w: local key must be able to sign", ErrInvalidFields)
	}
	if o.PeerKey == nil {
		return fmt.Errorf("%w: missing peer public key", ErrInvalidFields)
	}
	if o.Timeout <= 0 || o.Timeout >= 1<<32 {
		return fmt.Errorf("%w: timeout must be a positive 32-bit locktime", ErrInvalidFields)
	}
	if o.Net == nil {
		return fmt.Errorf("%w: missing network params", ErrInvalidFields)
	}
	if o.Direction == domain.ChannelOutgoing && o.Capacity == 0 {
		return fmt.Errorf("%w: outgoing channel requires a funding amount", ErrInvalidFields)
	}
	return nil
}

// Channel owns one unidirectional escrow: its key material, redeem script and
// capacity-bounded balance. An outgoing channel is funded locally and issues
// claims; an incoming channel is funded by the peer and verifies, stores and
// eventually settles claims.
//
// All state mutations happen under c.mu. Network and signature work run
// outside the lock; invariants are re-validated before commit since state may
// have moved during the suspension.
type Channel struct {
	direction domain.ChannelDirection
	localKey  *paychan.KeyMaterial
	peerKey   *paychan.KeyMaterial
	timeout   int64
	fee       uint64
	net       *chaincfg.Params

	redeemScript []byte
	outputScript []byte

	node     ports.NodeService
	channels domain.ChannelRepository
	balance  *balance

	// claimMu serializes whole claim exchanges, so a cumulative target
	// computed from the balance stays valid until its claim commits.
	claimMu sync.Mutex

	mu           sync.Mutex
	state        domain.ChannelState
	fundingTxID  string
	outputIndex  uint32
	capacity     uint64
	bestClaim    *domain.Claim
	settlementTx string
}

func NewChannel(
	ctx context.Context, opts ChannelOpts,
	node ports.NodeService, repos ports.RepoManager,
) (*Channel, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	senderPub, receiverPub := opts.LocalKey.PubKey(), opts.PeerKey.PubKey()
	if opts.Direction == domain.ChannelIncoming {
		senderPub, receiverPub = opts.PeerKey.PubKey(), opts.LocalKey.PubKey()
	}
	redeemScript, err := paychan.DeriveRedeemScript(senderPub, receiverPub, opts.Timeout)
	if err != nil {
		return nil, err
	}
	outputScript, err := paychan.OutputDescriptor(redeemScript)
	if err != nil {
		return nil, err
	}

	bal, err := newBalance(ctx, repos.Balances(), opts.Direction.String(), opts.Capacity)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		direction:    opts.Direction,
		localKey:     opts.LocalKey,
		peerKey:      opts.PeerKey,
		timeout:      opts.Timeout,
		fee:          opts.Fee,
		net:          opts.Net,
		redeemScript: redeemScript,
		outputScript: outputScript,
		node:         node,
		channels:     repos.Channels(),
		balance:      bal,
		state:        domain.ChannelUnfunded,
		capacity:     opts.Capacity,
	}
	if opts.Direction == domain.ChannelIncoming {
		// Incoming channels skip straight to funding, pending the
		// counterparty-provided txid.
		c.state = domain.ChannelFunding
	}

	if stored, err := repos.Channels().Get(ctx, opts.Direction); err == nil {
		c.state = stored.State
		c.fundingTxID = stored.FundingTxID
		c.outputIndex = stored.OutputIndex
		c.capacity = stored.Capacity
		c.bestClaim = stored.BestClaim
		c.settlementTx = stored.SettlementTx
	}

	return c, nil
}

func (c *Channel) Direction() domain.ChannelDirection {
	return c.direction
}

func (c *Channel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) FundingTxID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fundingTxID
}

func (c *Channel) Capacity() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *Channel) Balance() uint64 {
	return c.balance.Get()
}

func (c *Channel) BestClaim() *domain.Claim {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bestClaim == nil {
		return nil
	}
	claim := *c.bestClaim
	return &claim
}

// Address returns the P2SH escrow address the funding transaction pays to.
func (c *Channel) Address() (btcutil.Address, error) {
	return paychan.ScriptAddress(c.redeemScript, c.net)
}

// Fund broadcasts the funding transaction for an outgoing channel. Calling it
// again once a funding txid exists returns that txid without re-broadcasting.
func (c *Channel) Fund(ctx context.Context) (string, error) {
	if c.direction != domain.ChannelOutgoing {
		return "", ErrWrongDirection
	}

	c.mu.Lock()
	if len(c.fundingTxID) > 0 {
		txid := c.fundingTxID
		c.mu.Unlock()
		return txid, nil
	}
	if c.state != domain.ChannelUnfunded {
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("cannot fund channel in state %s", state)
	}
	// In-flight marker so a concurrent Fund cannot double-broadcast.
	c.state = domain.ChannelFunding
	c.mu.Unlock()

	addr, err := paychan.ScriptAddress(c.redeemScript, c.net)
	if err != nil {
		c.rollbackState(domain.ChannelUnfunded)
		return "", err
	}
	txid, err := c.node.FundAddress(ctx, addr.String(), c.capacity)
	if err != nil {
		c.rollbackState(domain.ChannelUnfunded)
		return "", err
	}

	c.mu.Lock()
	c.fundingTxID = txid
	c.persistLocked(ctx)
	c.mu.Unlock()

	log.WithField("txid", txid).Info("broadcast funding transaction")
	return txid, nil
}

// Load locates the funding transaction on-chain, finds the output matching
// the redeem script descriptor and opens the channel with that output's value
// as capacity. A funding transaction without a matching output is a fatal
// misconfiguration, not retried.
func (c *Channel) Load(ctx context.Context, txid string) error {
	c.mu.Lock()
	if len(txid) <= 0 {
		txid = c.fundingTxID
	}
	if len(txid) <= 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: missing funding txid", ErrInvalidFields)
	}
	if c.state == domain.ChannelOpen && c.fundingTxID == txid {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	tx, err := c.node.GetTransaction(ctx, txid)
	if err != nil {
		return err
	}

	found := false
	var outputIndex uint32
	var capacity uint64
	for i, out := range tx.Outputs {
		if !bytes.Equal(out.Script, c.outputScript) {
			continue
		}
		outputIndex = uint32(i)
		capacity = out.Value
		found = true
		break
	}
	if !found {
		return fmt.Errorf("%w: txid %s", ErrFundingOutputNotFound, txid)
	}

	if err := c.balance.SetMaximum(ctx, capacity); err != nil {
		return err
	}

	c.mu.Lock()
	c.fundingTxID = txid
	c.outputIndex = outputIndex
	c.capacity = capacity
	c.state = domain.ChannelOpen
	c.persistLocked(ctx)
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"txid":     txid,
		"vout":     outputIndex,
		"capacity": capacity,
		"channel":  c.direction.String(),
	}).Info("channel open")
	return nil
}

// IssueClaim signs a closing transaction paying newAmount to the receiver and
// commits newAmount as the channel balance. The amount must strictly exceed
// the current balance and stay within capacity; both bounds are re-checked
// after signing, right before commit.
func (c *Channel) IssueClaim(ctx context.Context, newAmount uint64) (string, error) {
	if c.direction != domain.ChannelOutgoing {
		return "", ErrWrongDirection
	}

	c.mu.Lock()
	if err := c.validateClaimAmountLocked(newAmount, ErrClaimNotIncreasing); err != nil {
		c.mu.Unlock()
		return "", err
	}
	tx, err := c.closingTxLocked(newAmount)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	sig, err := paychan.SignClosing(tx, c.redeemScript, c.localKey)
	if err != nil {
		return "", err
	}
	sigHex := hex.EncodeToString(sig)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validateClaimAmountLocked(newAmount, ErrClaimNotIncreasing); err != nil {
		return "", err
	}
	if err := c.balance.Set(ctx, newAmount); err != nil {
		return "", err
	}
	c.bestClaim = &domain.Claim{Amount: newAmount, Signature: sigHex}
	c.persistLocked(ctx)

	log.WithFields(log.Fields{
		"amount": newAmount,
		"txid":   c.fundingTxID,
	}).Debug("issued claim")
	return sigHex, nil
}

// IssueClaimDelta signs a claim raising the channel balance by amount.
// Concurrent callers are serialized, so each delta folds into the cumulative
// target instead of racing over a stale balance read.
func (c *Channel) IssueClaimDelta(ctx context.Context, amount uint64) (string, error) {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()
	return c.IssueClaim(ctx, c.balance.Get()+amount)
}

// AcceptClaimDelta verifies and commits a counterparty claim covering the
// current balance plus amount. Serialized like IssueClaimDelta.
func (c *Channel) AcceptClaimDelta(ctx context.Context, amount uint64, sigHex string) error {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()
	return c.AcceptClaim(ctx, c.balance.Get()+amount, sigHex)
}

// AcceptClaim verifies a counterparty claim over newAmount and, on success,
// commits it as the new balance and best claim. Stale or tampered claims are
// rejected without any mutation.
func (c *Channel) AcceptClaim(ctx context.Context, newAmount uint64, sigHex string) error {
	if c.direction != domain.ChannelIncoming {
		return ErrWrongDirection
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: claim signature is not hex", ErrInvalidFields)
	}

	c.mu.Lock()
	if err := c.validateClaimAmountLocked(newAmount, ErrClaimDecreased); err != nil {
		c.mu.Unlock()
		return err
	}
	tx, err := c.closingTxLocked(newAmount)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := paychan.VerifyClaim(tx, c.redeemScript, sig, c.peerKey.PubKey()); err != nil {
		return fmt.Errorf("%w: amount %d: %s", ErrClaimRejected, newAmount, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validateClaimAmountLocked(newAmount, ErrClaimDecreased); err != nil {
		return err
	}
	if err := c.balance.Set(ctx, newAmount); err != nil {
		return err
	}
	c.bestClaim = &domain.Claim{Amount: newAmount, Signature: sigHex}
	c.persistLocked(ctx)

	log.WithFields(log.Fields{
		"amount": newAmount,
		"txid":   c.fundingTxID,
	}).Debug("accepted claim")
	return nil
}

// Close settles an incoming channel cooperatively using the stored best
// claim. It is one-shot: once a submission is in flight or done, further
// calls do not re-submit.
func (c *Channel) Close(ctx context.Context) (string, error) {
	if c.direction != domain.ChannelIncoming {
		return "", ErrWrongDirection
	}

	c.mu.Lock()
	switch c.state {
	case domain.ChannelClosed:
		txid := c.settlementTx
		c.mu.Unlock()
		return txid, nil
	case domain.ChannelClosing:
		c.mu.Unlock()
		return "", nil
	case domain.ChannelOpen:
	default:
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("%w: state %s", ErrChannelNotOpen, state)
	}
	if c.bestClaim == nil {
		c.mu.Unlock()
		return "", ErrNoClaim
	}
	claim := *c.bestClaim
	c.state = domain.ChannelClosing
	tx, err := c.closingTxLocked(claim.Amount)
	c.mu.Unlock()
	if err != nil {
		c.rollbackState(domain.ChannelOpen)
		return "", err
	}

	txid, err := c.submitClose(ctx, tx, claim)
	if err != nil {
		c.rollbackState(domain.ChannelOpen)
		return "", err
	}

	c.mu.Lock()
	c.state = domain.ChannelClosed
	c.settlementTx = txid
	c.persistLocked(ctx)
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"txid":   txid,
		"amount": claim.Amount,
	}).Info("submitted closing transaction")
	return txid, nil
}

func (c *Channel) submitClose(
	ctx context.Context, tx *wire.MsgTx, claim domain.Claim,
) (string, error) {
	senderSig, err := hex.DecodeString(claim.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: stored claim signature is not hex", ErrInvalidFields)
	}
	receiverSig, err := paychan.SignClosing(tx, c.redeemScript, c.localKey)
	if err != nil {
		return "", err
	}
	closeScript, err := paychan.CooperativeCloseScript(senderSig, receiverSig, c.redeemScript)
	if err != nil {
		return "", err
	}
	tx.TxIn[0].SignatureScript = closeScript
	return c.node.Broadcast(ctx, tx)
}

// Expire reclaims the full escrow through the refund branch of an outgoing
// channel. Permitted only once the redeem script's timeout has matured
// against the current chain state. One-shot like Close.
func (c *Channel) Expire(ctx context.Context) (string, error) {
	if c.direction != domain.ChannelOutgoing {
		return "", ErrWrongDirection
	}

	chainTime, err := c.node.GetChainTime(ctx)
	if err != nil {
		return "", err
	}
	if !timelockMatured(c.timeout, chainTime) {
		return "", fmt.Errorf("%w: timeout %d", ErrTimelockNotMatured, c.timeout)
	}

	c.mu.Lock()
	switch c.state {
	case domain.ChannelExpired:
		txid := c.settlementTx
		c.mu.Unlock()
		return txid, nil
	case domain.ChannelClosing:
		c.mu.Unlock()
		return "", nil
	case domain.ChannelOpen:
	default:
		state := c.state
		c.mu.Unlock()
		return "", fmt.Errorf("%w: state %s", ErrChannelNotOpen, state)
	}
	c.state = domain.ChannelClosing
	fundingHash, err := chainhash.NewHashFromStr(c.fundingTxID)
	if err != nil {
		c.state = domain.ChannelOpen
		c.mu.Unlock()
		return "", err
	}
	outputIndex, capacity := c.outputIndex, c.capacity
	c.mu.Unlock()

	txid, err := c.submitExpiry(ctx, fundingHash, outputIndex, capacity)
	if err != nil {
		c.rollbackState(domain.ChannelOpen)
		return "", err
	}

	c.mu.Lock()
	c.state = domain.ChannelExpired
	c.settlementTx = txid
	c.persistLocked(ctx)
	c.mu.Unlock()

	log.WithField("txid", txid).Info("submitted expiry transaction")
	return txid, nil
}

func (c *Channel) submitExpiry(
	ctx context.Context, fundingHash *chainhash.Hash, outputIndex uint32, capacity uint64,
) (string, error) {
	senderAddr, err := c.localKey.Address()
	if err != nil {
		return "", err
	}
	tx, err := paychan.BuildExpiry(
		fundingHash, outputIndex,
		btcutil.Amount(capacity), btcutil.Amount(c.fee), c.timeout, senderAddr,
	)
	if err != nil {
		return "", err
	}
	senderSig, err := paychan.SignClosing(tx, c.redeemScript, c.localKey)
	if err != nil {
		return "", err
	}
	expiryScript, err := paychan.ExpiryScript(senderSig, c.redeemScript)
	if err != nil {
		return "", err
	}
	tx.TxIn[0].SignatureScript = expiryScript
	return c.node.Broadcast(ctx, tx)
}

// closingTxLocked rebuilds the closing transaction implied by a claim amount.
// Caller holds c.mu.
func (c *Channel) closingTxLocked(amount uint64) (*wire.MsgTx, error) {
	fundingHash, err := chainhash.NewHashFromStr(c.fundingTxID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad funding txid", ErrInvalidFields)
	}

	senderKey, receiverKey := c.localKey, c.peerKey
	if c.direction == domain.ChannelIncoming {
		senderKey, receiverKey = c.peerKey, c.localKey
	}
	senderAddr, err := senderKey.Address()
	if err != nil {
		return nil, err
	}
	receiverAddr, err := receiverKey.Address()
	if err != nil {
		return nil, err
	}

	return paychan.BuildClosing(
		fundingHash, c.outputIndex,
		btcutil.Amount(amount), btcutil.Amount(c.capacity-amount), btcutil.Amount(c.fee),
		receiverAddr, senderAddr,
	)
}

// validateClaimAmountLocked enforces the monotone, capacity-bounded claim
// invariant. Caller holds c.mu.
func (c *Channel) validateClaimAmountLocked(amount uint64, notIncreasing error) error {
	if c.state != domain.ChannelOpen {
		return fmt.Errorf("%w: state %s", ErrChannelNotOpen, c.state)
	}
	if amount <= c.balance.Get() {
		return fmt.Errorf("%w: %d <= %d", notIncreasing, amount, c.balance.Get())
	}
	if amount > c.capacity {
		return fmt.Errorf("%w: %d > %d", ErrClaimTooLarge, amount, c.capacity)
	}
	return nil
}

func (c *Channel) rollbackState(state domain.ChannelState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// persistLocked writes the channel snapshot. Caller holds c.mu. Persistence
// failures are logged, not fatal: the in-memory engine stays authoritative
// for the session.
func (c *Channel) persistLocked(ctx context.Context) {
	record := domain.Channel{
		Direction:    c.direction,
		State:        c.state,
		FundingTxID:  c.fundingTxID,
		OutputIndex:  c.outputIndex,
		Capacity:     c.capacity,
		BestClaim:    c.bestClaim,
		SettlementTx: c.settlementTx,
	}
	if err := c.channels.Upsert(ctx, record); err != nil {
		log.WithError(err).Warn("failed to persist channel state")
	}
}

// timelockMatured compares the channel timeout against chain state using the
// consensus threshold: small values are block heights, large ones unix times.
func timelockMatured(timeout int64, chainTime *ports.ChainTime) bool {
	if timeout < txscript.LockTimeThreshold {
		return chainTime.Height >= timeout
	}
	return chainTime.MedianTime >= timeout
}
