package main

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddClientCaseInsensitive(t *testing.T) {
	h := startDatabase(t, "irc.test")

	lc, _ := localClient("Alice")
	require.NoError(t, h.AddLocalClient(lc))

	assert.True(t, h.ContainsClient("alice"))
	assert.True(t, h.ContainsClient("ALICE"))
	assert.True(t, h.IsLocalClient("aLiCe"))

	other, _ := localClient("ALICE")
	assert.ErrorIs(t, h.AddLocalClient(other), errNicknameTaken)

	ext := externalClient("alice", "two.test", "two.test", 1)
	assert.ErrorIs(t, h.AddExternalClient(ext), errNicknameTaken)

	info, ok := h.ClientInfo("alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", info.Nick())
	assert.Equal(t, "Alice!Alice@127.0.0.1", info.Hostmask())
}

func TestRFC1459CaseMapping(t *testing.T) {
	h := startDatabase(t, "irc.test")

	lc, _ := localClient("nick[a]")
	require.NoError(t, h.AddLocalClient(lc))

	assert.True(t, h.ContainsClient("NICK{A}"))
	assert.True(t, h.ContainsClient("nick{a}"))
}

func TestUpdateNickname(t *testing.T) {
	h := startDatabase(t, "irc.test")

	alice, _ := localClient("alice")
	bob, _ := localClient("bob")
	require.NoError(t, h.AddLocalClient(alice))
	require.NoError(t, h.AddLocalClient(bob))

	h.AddClientToChannel("alice", "#a")
	h.AddChannop("#a", "alice")
	h.AddSpeaker("#a", "alice")

	assert.ErrorIs(t, h.UpdateNickname("alice", "BOB"), errNicknameTaken)
	assert.ErrorIs(t, h.UpdateNickname("nobody", "x"), errClientNotFound)

	require.NoError(t, h.UpdateNickname("alice", "carol"))

	assert.False(t, h.ContainsClient("alice"))
	info, ok := h.ClientInfo("carol")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "carol"}, info.Nicknames)

	assert.Equal(t, []string{"carol"}, h.ChannelClients("#a"))
	assert.True(t, h.IsChannelOperator("#a", "carol"))
	assert.True(t, h.IsChannelSpeaker("#a", "carol"))
	assert.False(t, h.IsChannelOperator("#a", "alice"))

	require.NoError(t, h.UpdateNickname("carol", "CAROL"), "case change")
	info, _ = h.ClientInfo("carol")
	assert.Equal(t, "CAROL", info.Nick())
}

func TestRemoveClient(t *testing.T) {
	h := startDatabase(t, "irc.test")

	alice, _ := localClient("alice")
	bob, _ := localClient("bob")
	require.NoError(t, h.AddLocalClient(alice))
	require.NoError(t, h.AddLocalClient(bob))

	h.AddClientToChannel("alice", "#solo")
	h.AddClientToChannel("alice", "#shared")
	h.AddClientToChannel("bob", "#shared")
	h.AddChannop("#shared", "alice")
	h.AddInvite("#shared", "alice")

	info, ok := h.RemoveClient("alice")
	require.True(t, ok)
	assert.Equal(t, "alice", info.Nick())

	assert.False(t, h.ContainsChannel("#solo"), "empty channel is deleted")
	assert.Equal(t, []string{"bob"}, h.ChannelClients("#shared"))
	assert.False(t, h.IsChannelOperator("#shared", "alice"))

	cfg, ok := h.ChannelConfig("#shared")
	require.True(t, ok)
	assert.Empty(t, cfg.Invited)

	_, ok = h.RemoveClient("alice")
	assert.False(t, ok)

	was := h.Whowas("ALICE")
	require.Len(t, was, 1)
	assert.Equal(t, "alice", was[0].Nick())
}

func TestJoinChannel(t *testing.T) {
	h := startDatabase(t, "irc.test")

	for _, n := range []string{"op", "alice", "bob"} {
		lc, _ := localClient(n)
		require.NoError(t, h.AddLocalClient(lc))
	}

	res, err := h.JoinChannel("op", "#c", "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, []string{"op"}, res.Channel.Members)
	assert.True(t, h.IsChannelOperator("#c", "op"), "creator is operator")

	_, err = h.JoinChannel("op", "#C", "")
	assert.ErrorIs(t, err, errAlreadyOnChannel)

	h.SetChannelKey("#c", "sesame")
	_, err = h.JoinChannel("alice", "#c", "wrong")
	assert.Equal(t, errBadChannelKey("#c"), err)
	_, err = h.JoinChannel("alice", "#c", "sesame")
	require.NoError(t, err)
	h.RemoveClientFromChannel("alice", "#c")
	h.SetChannelKey("#c", "")

	h.SetChannelLimit("#c", 1)
	_, err = h.JoinChannel("alice", "#c", "")
	assert.Equal(t, errChannelIsFull("#c"), err)
	h.UnsetChannelLimit("#c")

	h.AddChannelBanmask("#c", "alice!*@*")
	_, err = h.JoinChannel("alice", "#c", "")
	assert.Equal(t, errBannedFromChan("#c"), err)

	h.SetChannelMode("#c", ChannelInviteOnly)
	_, err = h.JoinChannel("bob", "#c", "")
	assert.Equal(t, errInviteOnlyChan("#c"), err)

	h.AddInvite("#c", "alice")
	res, err = h.JoinChannel("alice", "#c", "")
	require.NoError(t, err, "an invite passes bans and +i")
	assert.False(t, res.Created)
	assert.False(t, h.IsChannelOperator("#c", "alice"))

	cfg, _ := h.ChannelConfig("#c")
	assert.NotContains(t, cfg.Invited, "alice", "the invite is used up")

	_, err = h.JoinChannel("bob", "bad,name", "")
	assert.Equal(t, errNoSuchChannel("bad,name"), err)
}

func TestJoinChannelLimit(t *testing.T) {
	h := startDatabase(t, "irc.test")

	lc, _ := localClient("alice")
	require.NoError(t, h.AddLocalClient(lc))

	for i := 0; i < maxChannels; i++ {
		_, err := h.JoinChannel("alice", fmt.Sprintf("#c%d", i), "")
		require.NoError(t, err)
	}

	_, err := h.JoinChannel("alice", "#onemore", "")
	assert.Equal(t, errTooManyChannels("#onemore"), err)
}

func TestBanmasks(t *testing.T) {
	h := startDatabase(t, "irc.test")

	lc, _ := localClient("alice")
	require.NoError(t, h.AddLocalClient(lc))
	h.AddClientToChannel("alice", "#c")

	assert.True(t, h.AddChannelBanmask("#c", "*!*@bad.example"))
	assert.True(t, h.AddChannelBanmask("#c", "x"))
	assert.False(t, h.AddChannelBanmask("#c", "*!*@BAD.example"),
		"duplicates are ignored")

	assert.Equal(t, []string{"*!*@bad.example", "x"}, h.ChannelBanmasks("#c"))

	assert.True(t, h.RemoveChannelBanmask("#c", "x"))
	assert.False(t, h.RemoveChannelBanmask("#c", "x"))
	assert.Equal(t, []string{"*!*@bad.example"}, h.ChannelBanmasks("#c"))
}

func TestStoppedDatabase(t *testing.T) {
	db := NewDatabase("irc.test", "", nil, discardLogger())
	go db.Run()
	h := db.Handle()

	lc, _ := localClient("alice")
	require.NoError(t, h.AddLocalClient(lc))
	db.Stop()

	assert.False(t, h.ContainsClient("alice"), "queries return zero values")
	h.SetAwayMessage("alice", "gone")
	db.Stop()
}

func TestConcurrentRegistration(t *testing.T) {
	h := startDatabase(t, "irc.test")

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lc, _ := localClient("same")
			if h.AddLocalClient(lc) == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won, "exactly one registration wins")
}

func TestServersAndStats(t *testing.T) {
	h := startDatabase(t, "irc.test")

	require.NoError(t, h.AddImmediateServer(&ImmediateServer{
		Name: "two.test", Info: "two", Stream: &fakeStream{},
	}))
	require.NoError(t, h.AddDistantServer(&DistantServer{
		Name: "three.test", Info: "three", Hopcount: 2,
		Via: "two.test", Uplink: "two.test",
	}))

	assert.ErrorIs(t, h.AddImmediateServer(&ImmediateServer{Name: "IRC.test"}),
		errServerExists, "our own name")
	assert.ErrorIs(t, h.AddDistantServer(&DistantServer{Name: "Two.Test"}),
		errServerExists)

	via, ok := h.ViaFor("three.test")
	require.True(t, ok)
	assert.Equal(t, "two.test", via)
	assert.True(t, h.IsImmediateServer("TWO.test"))
	assert.False(t, h.IsImmediateServer("three.test"))

	servers := h.AllServers()
	require.Len(t, servers, 2)
	assert.Equal(t, "two.test", servers[0].Name)
	assert.Equal(t, 1, servers[0].Hopcount)
	assert.Equal(t, "three.test", servers[1].Name)
	assert.Equal(t, "two.test", servers[1].Uplink)

	lc, _ := localClient("alice")
	require.NoError(t, h.AddLocalClient(lc))
	require.NoError(t, h.AddExternalClient(
		externalClient("bob", "three.test", "two.test", 2)))
	h.SetServerOperator("bob")
	h.AddClientToChannel("alice", "#c")

	st := h.Stats()
	assert.Equal(t, stats{
		LocalClients:    1,
		Clients:         2,
		Operators:       1,
		Channels:        1,
		Servers:         3,
		ImmediateServer: 1,
	}, st)
}

func TestChannelAccessors(t *testing.T) {
	h := startDatabase(t, "irc.test")

	alice, _ := localClient("alice")
	require.NoError(t, h.AddLocalClient(alice))
	require.NoError(t, h.AddExternalClient(
		externalClient("bob", "two.test", "two.test", 1)))

	assert.True(t, h.AddClientToChannel("alice", "#c"), "created")
	assert.False(t, h.AddClientToChannel("bob", "#C"))
	assert.Equal(t, []string{"alice"}, h.LocalClientsForChannel("#c"))

	_, ok := h.ChannelTopic("#nowhere")
	assert.False(t, ok)
	h.SetChannelTopic("#c", "hello there")
	topic, ok := h.ChannelTopic("#C")
	require.True(t, ok)
	assert.Equal(t, "hello there", topic)

	h.SetChannelKey("#c", "sesame")
	assert.Equal(t, "sesame", h.ChannelKey("#c"))

	_, ok = h.ChannelLimit("#c")
	assert.False(t, ok)
	h.SetChannelLimit("#c", 3)
	limit, ok := h.ChannelLimit("#c")
	require.True(t, ok)
	assert.Equal(t, 3, limit)
	h.UnsetChannelLimit("#c")
	_, ok = h.ChannelLimit("#c")
	assert.False(t, ok)

	h.SetChannelMode("#c", ChannelModerated)
	assert.True(t, h.ChannelHasMode("#c", ChannelModerated))
	h.UnsetChannelMode("#c", ChannelModerated)
	assert.False(t, h.ChannelHasMode("#c", ChannelModerated))

	h.AddChannop("#c", "bob")
	assert.True(t, h.IsChannelOperator("#c", "BOB"))
	h.RemoveChannop("#c", "bob")
	assert.False(t, h.IsChannelOperator("#c", "bob"))

	h.AddSpeaker("#c", "bob")
	assert.True(t, h.IsChannelSpeaker("#c", "bob"))
	h.RemoveSpeaker("#c", "bob")
	assert.False(t, h.IsChannelSpeaker("#c", "bob"))

	assert.True(t, h.AddChannelBanmask("#c", "troll!*@*"))
	assert.True(t, h.RemoveChannelBanmask("#c", "troll!*@*"))
	assert.False(t, h.RemoveChannelBanmask("#c", "troll!*@*"))
	assert.Empty(t, h.ChannelBanmasks("#c"))
}

func TestHandleModes(t *testing.T) {
	h := startDatabase(t, "irc.test")

	alice, _ := localClient("alice")
	require.NoError(t, h.AddLocalClient(alice))
	h.AddClientToChannel("alice", "#c")

	changes, err := parseChannelModes("+tl", []string{"7"})
	require.NoError(t, err)
	applied, errs := h.ApplyChannelModes("#c", changes)
	assert.Empty(t, errs)
	assert.Len(t, applied, 2)
	assert.True(t, h.ChannelHasMode("#c", ChannelTopicOps))
	limit, ok := h.ChannelLimit("#c")
	require.True(t, ok)
	assert.Equal(t, 7, limit)

	userChanges, err := parseUserModes("+i")
	require.NoError(t, err)
	assert.Len(t, h.ApplyUserModes("alice", userChanges), 1)
	info, _ := h.ClientInfo("alice")
	assert.NotZero(t, info.Flags&UserInvisible)
	assert.Empty(t, h.ApplyUserModes("alice", userChanges), "already set")
}

func TestClientAccessors(t *testing.T) {
	h := startDatabase(t, "irc.test")

	alice, stream := localClient("alice")
	require.NoError(t, h.AddLocalClient(alice))
	require.NoError(t, h.AddExternalClient(
		externalClient("bob", "two.test", "two.test", 1)))

	s, ok := h.LocalStream("ALICE")
	require.True(t, ok)
	assert.Same(t, stream, s)
	_, ok = h.LocalStream("bob")
	assert.False(t, ok)

	via, ok := h.ImmediateServerFor("bob")
	require.True(t, ok)
	assert.Equal(t, "two.test", via)
	_, ok = h.ImmediateServerFor("alice")
	assert.False(t, ok)

	_, ok = h.AwayMessage("alice")
	assert.False(t, ok)
	h.SetAwayMessage("alice", "lunch")
	away, ok := h.AwayMessage("alice")
	require.True(t, ok)
	assert.Equal(t, "lunch", away)

	assert.False(t, h.IsServerOperator("alice"))
	h.SetUserFlag("alice", UserOperator, true)
	assert.True(t, h.IsServerOperator("alice"))
	h.SetUserFlag("alice", UserOperator, false)
	assert.False(t, h.IsServerOperator("alice"))

	all := h.AllClients()
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Nick())
	assert.Equal(t, "bob", all[1].Nick())

	byHost := h.ClientsForMask("*.org")
	require.Len(t, byHost, 1)
	assert.Equal(t, "bob", byHost[0].Nick())
	assert.Len(t, h.ClientsForMask("*!*@127.0.0.1"), 1)

	byNick := h.ClientsForNickmask("a*")
	require.Len(t, byNick, 1)
	assert.Equal(t, "alice", byNick[0].Nick())

	h.DisconnectClient("alice")
	assert.True(t, h.ContainsClient("alice"), "info stays until the quit")
	assert.True(t, stream.isClosed())
}

func TestServerAccessors(t *testing.T) {
	h := startDatabase(t, "irc.test")

	two := &fakeStream{}
	require.NoError(t, h.AddImmediateServer(&ImmediateServer{
		Name: "two.test", Info: "two", Stream: two,
	}))
	require.NoError(t, h.AddDistantServer(&DistantServer{
		Name: "three.test", Info: "three", Hopcount: 2,
		Via: "two.test", Uplink: "two.test",
	}))

	assert.Equal(t, "irc.test", h.ServerName())

	s, ok := h.ServerStream("TWO.test")
	require.True(t, ok)
	assert.Same(t, two, s)
	_, ok = h.ServerStream("three.test")
	assert.False(t, ok, "distant servers have no stream")

	self, ok := h.ServerInfo("irc.test")
	require.True(t, ok)
	assert.Equal(t, ServerInfo{Name: "irc.test", Info: "test server"}, self)

	three, ok := h.ServerInfo("three.test")
	require.True(t, ok)
	assert.Equal(t, ServerInfo{Name: "three.test", Info: "three", Hopcount: 2,
		Uplink: "two.test"}, three)

	h.RemoveServer("three.test")
	assert.False(t, h.ContainsServer("three.test"))
	assert.True(t, h.ContainsServer("two.test"))
}
