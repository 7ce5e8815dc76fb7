package mirror

import (
	"bytes"
	"context"
	"crypto/sha256"
	"slices"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/content"
	"github.com/chirino/chat-mirror/internal/model"
	"github.com/chirino/chat-mirror/internal/transport"
)

// vote folds one poll update into the aggregate of the poll it targets.
func (e *Engine) vote(ctx context.Context, t transition, voter string) error {
	update := t.poll
	ts := update.SenderTimestampMs / 1000
	if ts <= 0 {
		ts = e.nowSec()
	}
	self := e.selfAddress()
	_, err := e.applyPatch(ctx, t.target.ID, "poll", false, func(_ *model.Message, env *model.Envelope) bool {
		if env.Tombstoned() {
			return false
		}
		creation := content.PollCreation(content.Unwrap(env.Message))
		if creation == nil {
			return false
		}
		raw, ok := e.decodeVote(update, creation, self)
		if !ok {
			return false
		}
		selected := resolveOptions(creation, raw)
		if len(raw) > 0 && len(selected) == 0 {
			return false
		}
		return applyVote(env, creation, voter, selected, ts)
	})
	return err
}

// decodeVote returns the raw option references of update. Decryption
// failures degrade to the plaintext vote; with neither the vote is dropped.
func (e *Engine) decodeVote(update *transport.PollUpdateMessage, creation *transport.PollCreationMessage, self string) ([][]byte, bool) {
	if e.votes != nil && update.EncVote != nil {
		selected, err := e.votes.DecodeVote(update, creation, self)
		if err == nil {
			return selected, true
		}
		log.Debug("Mirror: poll vote decryption failed", "poll", update.PollCreationMessageKey.ID, "err", err)
	}
	if update.Vote != nil {
		return update.Vote.SelectedOptions, true
	}
	return nil, false
}

// resolveOptions maps option references (SHA-256 of the name, the name
// itself, or a decimal index) to option names, keeping the last maxSelect.
func resolveOptions(creation *transport.PollCreationMessage, raw [][]byte) []string {
	var names []string
	for _, ref := range raw {
		name, ok := matchOption(creation.Options, ref)
		if !ok || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
	}
	limit := creation.SelectableOptionsCount
	if limit <= 0 {
		limit = 1
	}
	if len(names) > limit {
		names = names[len(names)-limit:]
	}
	return names
}

func matchOption(options []transport.PollOption, ref []byte) (string, bool) {
	for _, opt := range options {
		sum := sha256.Sum256([]byte(opt.OptionName))
		if bytes.Equal(sum[:], ref) {
			return opt.OptionName, true
		}
	}
	for _, opt := range options {
		if string(ref) == opt.OptionName {
			return opt.OptionName, true
		}
	}
	if i, err := strconv.Atoi(string(ref)); err == nil && i >= 0 && i < len(options) {
		return options[i].OptionName, true
	}
	return "", false
}

// applyVote records the vote and recomputes the aggregate from the latest
// selection of every voter. An empty selection retracts the voter.
func applyVote(env *model.Envelope, creation *transport.PollCreationMessage, voter string, selected []string, ts int64) bool {
	if selected == nil {
		selected = []string{}
	}
	env.PollUpdates = append(env.PollUpdates, model.PollVoteRecord{Voter: voter, TS: ts, Selected: selected})

	state := env.Meta.PollState
	if state == nil {
		state = &model.PollState{LatestByVoter: map[string][]string{}}
		env.Meta.PollState = state
	}
	if state.LatestByVoter == nil {
		state.LatestByVoter = map[string][]string{}
	}
	previous := state.LatestByVoter[voter]
	if len(selected) == 0 {
		delete(state.LatestByVoter, voter)
	} else {
		state.LatestByVoter[voter] = selected
	}
	state.UpdatedAt = ts

	if !sameSelection(previous, selected) {
		env.Meta.PollEvents = append(env.Meta.PollEvents, model.PollEvent{
			Voter:    voter,
			TS:       ts,
			Previous: previous,
			Selected: selected,
		})
	}
	env.Meta.PollResults = tally(creation, state.LatestByVoter)
	return true
}

func tally(creation *transport.PollCreationMessage, latest map[string][]string) []model.PollResult {
	results := make([]model.PollResult, 0, len(creation.Options))
	for _, opt := range creation.Options {
		voters := []string{}
		for voter, picks := range latest {
			if slices.Contains(picks, opt.OptionName) {
				voters = append(voters, voter)
			}
		}
		slices.Sort(voters)
		results = append(results, model.PollResult{Name: opt.OptionName, Voters: voters, Count: len(voters)})
	}
	return results
}

func sameSelection(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
