package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/retry"
	"pulse-rewards/internal/token"
)

// rpcServer answers every request with handler(req).
func rpcServer(t *testing.T, handler func(req rpcRequest, r *http.Request) interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handler(req, r),
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPClient_GetPool(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest, _ *http.Request) interface{} {
		if req.Method != "get_poll_funding" {
			t.Errorf("expected method get_poll_funding, got %s", req.Method)
		}
		return map[string]interface{}{
			"pollId":            "poll-1",
			"tokenType":         map[string]interface{}{"ledger": nil},
			"tokenCanisterId":   "ryjl3-tyaaa-aaaaa-aaaba-cai",
			"tokenSymbol":       "PULSE",
			"tokenDecimals":     8,
			"totalFund":         "1000000000",
			"rewardPerResponse": "1000000",
			"maxResponses":      nil,
			"currentResponses":  10,
			"remainingFund":     "990000000",
			"fundingType":       map[string]interface{}{"Crowdfunded": nil},
			"contributors": []map[string]interface{}{
				{"principal": "alice", "amount": "600000000"},
				{"principal": "bob", "amount": "400000000"},
			},
		}
	})

	client := NewHTTPClient(server.URL)
	p, err := client.GetPool(context.Background(), "poll-1")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}

	if p.TokenType != domain.TokenTypeLedger {
		t.Errorf("expected ledger token type, got %s", p.TokenType)
	}
	if p.FundingType != domain.FundingCrowdfunded {
		t.Errorf("expected Crowdfunded, got %s", p.FundingType)
	}
	if p.TotalFund.String() != "10" {
		t.Errorf("expected total 10, got %s", p.TotalFund)
	}
	if p.RemainingFund.UnitsString() != "990000000" {
		t.Errorf("expected remaining 990000000, got %s", p.RemainingFund.UnitsString())
	}
	if p.MaxResponses != nil {
		t.Errorf("expected no response cap, got %d", *p.MaxResponses)
	}
	if len(p.Contributors) != 2 || p.Contributors[1].Principal != "bob" {
		t.Errorf("unexpected contributors %+v", p.Contributors)
	}
	if p.TokenCanister == nil || *p.TokenCanister != "ryjl3-tyaaa-aaaaa-aaaba-cai" {
		t.Errorf("unexpected canister %v", p.TokenCanister)
	}
}

func TestHTTPClient_GetPool_NotFound(t *testing.T) {
	server := rpcServer(t, func(rpcRequest, *http.Request) interface{} { return nil })

	client := NewHTTPClient(server.URL)
	_, err := client.GetPool(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_GetPool_UnknownVariant(t *testing.T) {
	server := rpcServer(t, func(rpcRequest, *http.Request) interface{} {
		return map[string]interface{}{
			"pollId":            "poll-1",
			"tokenType":         map[string]interface{}{"native": nil},
			"tokenSymbol":       "ICP",
			"tokenDecimals":     8,
			"totalFund":         "0",
			"rewardPerResponse": "0",
			"remainingFund":     "0",
			"fundingType":       map[string]interface{}{"Airdropped": nil},
		}
	})

	client := NewHTTPClient(server.URL)
	_, err := client.GetPool(context.Background(), "poll-1")
	var le *Error
	if !errors.As(err, &le) || le.Code != CodeDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnknownVariant) {
		t.Errorf("expected ErrUnknownVariant in chain, got %v", err)
	}
	if le.Transient() {
		t.Error("decode errors must not be transient")
	}
}

func TestHTTPClient_GetPool_MissingVariant(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"pollId":            "poll-1",
			"tokenType":         map[string]interface{}{"native": nil},
			"tokenSymbol":       "ICP",
			"tokenDecimals":     8,
			"totalFund":         "0",
			"rewardPerResponse": "0",
			"remainingFund":     "0",
			"fundingType":       map[string]interface{}{"Crowdfunded": nil},
		}
	}

	for _, missing := range []string{"fundingType", "tokenType"} {
		t.Run(missing, func(t *testing.T) {
			server := rpcServer(t, func(rpcRequest, *http.Request) interface{} {
				body := base()
				delete(body, missing)
				return body
			})

			client := NewHTTPClient(server.URL)
			p, err := client.GetPool(context.Background(), "poll-1")
			if err == nil {
				t.Fatalf("expected error, got pool with funding type %q", p.FundingType)
			}
			if !errors.Is(err, domain.ErrUnknownVariant) {
				t.Errorf("expected ErrUnknownVariant, got %v", err)
			}
			var le *Error
			if !errors.As(err, &le) || le.Code != CodeDecode {
				t.Errorf("expected decode error, got %v", err)
			}
		})
	}
}

func TestHTTPClient_Approve(t *testing.T) {
	var gotCaller string
	var gotArgs approveArgs
	server := rpcServer(t, func(req rpcRequest, r *http.Request) interface{} {
		gotCaller = r.Header.Get(CallerHeader)
		raw, _ := json.Marshal(req.Params[0])
		json.Unmarshal(raw, &gotArgs)
		return map[string]interface{}{"ok": 42}
	})

	client := NewHTTPClient(server.URL)
	block, err := client.Approve(context.Background(), ApproveRequest{
		Owner:     "alice",
		Spender:   "pool-service",
		Amount:    token.NewAmount(500_000, 8),
		FeeBuffer: token.NewAmount(20_000, 8),
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if block != 42 {
		t.Errorf("expected block 42, got %d", block)
	}
	if gotCaller != "alice" {
		t.Errorf("expected caller alice, got %q", gotCaller)
	}
	if gotArgs.Amount != "520000" {
		t.Errorf("expected allowance 520000, got %s", gotArgs.Amount)
	}
	if gotArgs.Spender != "pool-service" {
		t.Errorf("expected spender pool-service, got %s", gotArgs.Spender)
	}
}

func TestHTTPClient_ResultErrIsRejection(t *testing.T) {
	server := rpcServer(t, func(rpcRequest, *http.Request) interface{} {
		return map[string]interface{}{"err": "Reward already claimed"}
	})

	client := NewHTTPClient(server.URL)
	_, err := client.ClaimReward(context.Background(), "bob", "poll-1")
	text, ok := RejectionText(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if text != "Reward already claimed" {
		t.Errorf("unexpected rejection text %q", text)
	}
	if retry.IsTransient(err) {
		t.Error("rejections must not be transient")
	}
}

func TestHTTPClient_RPCErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32602, "message": "invalid params"},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.FundPool(context.Background(), "alice", "poll-1", token.NewAmount(1, 8))
	var le *Error
	if !errors.As(err, &le) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if le.RPCCode != -32602 || le.Code != CodeRejected {
		t.Errorf("unexpected error %+v", le)
	}
	if le.Transient() {
		t.Error("RPC errors must not be transient")
	}
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, CodeRateLimited, true},
		{"server error", http.StatusBadGateway, CodeUnavailable, true},
		{"client error", http.StatusForbidden, CodeBadStatus, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL)
			_, err := client.FundPool(context.Background(), "alice", "poll-1", token.NewAmount(1, 8))
			var le *Error
			if !errors.As(err, &le) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if le.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, le.Code)
			}
			if le.Transient() != tt.transient {
				t.Errorf("expected transient=%v", tt.transient)
			}
			if calls.Load() != 1 {
				t.Errorf("expected a single attempt, got %d", calls.Load())
			}
		})
	}
}

func TestHTTPClient_TimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithTimeout(50*time.Millisecond))
	_, err := client.FundPool(context.Background(), "alice", "poll-1", token.NewAmount(1, 8))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !retry.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestHTTPClient_ListClaimableRewards(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest, _ *http.Request) interface{} {
		if req.Method != "get_claimable_rewards" {
			t.Errorf("unexpected method %s", req.Method)
		}
		return []map[string]interface{}{
			{"pollId": "p1", "amount": "1000000", "tokenSymbol": "PULSE", "tokenDecimals": 8, "claimsAreOpen": true},
			{"pollId": "p2", "amount": "2500", "tokenSymbol": "ckUSDC", "tokenDecimals": 6, "pollStatus": map[string]interface{}{"active": nil}},
			{"pollId": "p3", "amount": "1", "tokenSymbol": "ICP", "tokenDecimals": 8, "pollStatus": map[string]interface{}{"claimsOpen": nil}},
		}
	})

	client := NewHTTPClient(server.URL)
	rewards, err := client.ListClaimableRewards(context.Background(), "bob")
	if err != nil {
		t.Fatalf("ListClaimableRewards: %v", err)
	}
	if len(rewards) != 3 {
		t.Fatalf("expected 3 rewards, got %d", len(rewards))
	}
	if rewards[0].Status() != domain.RewardStatusClaimable {
		t.Errorf("p1 should be claimable")
	}
	if rewards[1].Status() != domain.RewardStatusPending {
		t.Errorf("p2 should be pending")
	}
	if rewards[1].Amount.String() != "0.0025" {
		t.Errorf("expected 0.0025, got %s", rewards[1].Amount)
	}
	if !rewards[2].ClaimsAreOpen {
		t.Errorf("p3 should be open via poll status")
	}
}

func TestHTTPClient_QuestCalls(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest, _ *http.Request) interface{} {
		switch req.Method {
		case "get_user_quests":
			return []map[string]interface{}{{
				"id":           "q1",
				"name":         "First votes",
				"points":       10,
				"requirements": map[string]interface{}{"minVotes": 3},
				"progress":     map[string]interface{}{"votesCast": 2},
				"completed":    false,
			}}
		case "get_user_points":
			return map[string]interface{}{
				"userPoints": 25, "totalPoints": 100, "campaignPool": "1000000000", "tokenDecimals": 8,
			}
		case "claim_quest_rewards":
			return map[string]interface{}{"ok": "250000000"}
		case "has_claimed_quest_rewards":
			return true
		}
		t.Errorf("unexpected method %s", req.Method)
		return nil
	})

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	quests, err := client.GetUserQuests(ctx, "bob", "c1")
	if err != nil {
		t.Fatalf("GetUserQuests: %v", err)
	}
	if len(quests) != 1 || quests[0].Requirements.MinVotesCast != 3 || quests[0].Requirements.MinPollsCreated != 0 {
		t.Errorf("unexpected quests %+v", quests)
	}
	if quests[0].CampaignID != "c1" {
		t.Errorf("expected campaign c1, got %s", quests[0].CampaignID)
	}

	points, err := client.GetUserPoints(ctx, "bob", "c1")
	if err != nil {
		t.Fatalf("GetUserPoints: %v", err)
	}
	if points.UserPoints != 25 || points.TotalPoints != 100 || points.CampaignPool.String() != "10" {
		t.Errorf("unexpected points %+v", points)
	}

	paid, err := client.ClaimQuestRewards(ctx, "bob", "c1")
	if err != nil {
		t.Fatalf("ClaimQuestRewards: %v", err)
	}
	if paid.Cmp(big.NewInt(250_000_000)) != 0 {
		t.Errorf("expected 250000000, got %s", paid)
	}

	claimed, err := client.HasClaimedQuestRewards(ctx, "bob", "c1")
	if err != nil {
		t.Fatalf("HasClaimedQuestRewards: %v", err)
	}
	if !claimed {
		t.Error("expected claimed")
	}
}

func TestHTTPClient_AnonymousReads(t *testing.T) {
	var gotCaller string
	server := rpcServer(t, func(_ rpcRequest, r *http.Request) interface{} {
		gotCaller = r.Header.Get(CallerHeader)
		return "10000"
	})

	client := NewHTTPClient(server.URL)
	fee, err := client.TransferFee(context.Background(), nil)
	if err != nil {
		t.Fatalf("TransferFee: %v", err)
	}
	if fee.Int64() != 10_000 {
		t.Errorf("expected fee 10000, got %s", fee)
	}
	if gotCaller != string(AnonymousPrincipal) {
		t.Errorf("expected anonymous caller, got %q", gotCaller)
	}

	client = NewHTTPClient(server.URL, WithCaller("reader"))
	if _, err := client.TransferFee(context.Background(), nil); err != nil {
		t.Fatalf("TransferFee: %v", err)
	}
	if gotCaller != "reader" {
		t.Errorf("expected caller reader, got %q", gotCaller)
	}
}

func TestHTTPClient_RateLimit(t *testing.T) {
	server := rpcServer(t, func(rpcRequest, *http.Request) interface{} { return true })

	client := NewHTTPClient(server.URL, WithRateLimit(1, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := client.HasClaimedQuestRewards(ctx, "bob", "c1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// Burst spent: the next token arrives after the context deadline.
	if _, err := client.HasClaimedQuestRewards(ctx, "bob", "c1"); err == nil {
		t.Fatal("expected rate limit wait to fail")
	}
}
