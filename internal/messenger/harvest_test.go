package messenger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/wabridge/api/schemas"
	"github.com/xkilldash9x/wabridge/internal/browser/browsertest"
	"github.com/xkilldash9x/wabridge/internal/selectors"
)

func TestUnreadMessagesNothingUnread(t *testing.T) {
	f := newFixture(t, func(p *browsertest.Page) {
		p.Set(xp(selectors.ChatList), chatList(chatItem("Alice", false), chatItem("Bob", false)))
		installChatControls(p)
	})
	p := f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batch)
	for _, e := range p.Events() {
		assert.False(t, strings.HasPrefix(e, "click:"), "no chat should be opened, got %s", e)
	}
}

func TestUnreadMessagesWithoutChatList(t *testing.T) {
	f := newFixture(t, nil)
	f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestUnreadMessagesRequiresHandle(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.UnreadMessages(context.Background())
	assert.ErrorIs(t, err, ErrHandleNotStarted)
}

func TestUnreadMessagesText(t *testing.T) {
	clock := newFakeClock()
	f := newFixture(t, func(p *browsertest.Page) {
		alice := chatItem("Alice", true)
		openWith(p, alice, true, textRow("Alice", "hello"), textRow("", "who is this"))
		p.Set(xp(selectors.ChatList), chatList(chatItem("Bob", false), alice))
		installChatControls(p)
	})
	f.session.now = clock.Now
	p := f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)

	require.Len(t, batch, 1)
	msgs := batch["Alice"]
	require.Len(t, msgs, 2)

	assert.Equal(t, schemas.MessageText, msgs[0].Type)
	assert.Equal(t, "Alice", msgs[0].Sender)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, clock.Now(), msgs[0].Timestamp)
	assert.Equal(t, "12:00:00", msgs[0].Time)
	assert.Equal(t, "2026-10-18", msgs[0].Date)

	assert.Equal(t, schemas.UnknownSender, msgs[1].Sender)
	assert.Equal(t, "who is this", msgs[1].Text)

	events := p.Events()
	assert.Contains(t, events, "click:chat:Alice")
	assert.NotContains(t, events, "click:chat:Bob")
	assert.Contains(t, events, "click:close_chat")
}

func TestUnreadMessagesFileRow(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(p *browsertest.Page) {
		row := fileRow("Alice", "report.pdf", f.session.DownloadDir()).
			WithChild(xp(selectors.Text), browsertest.NewElement("caption").WithText("see attached"))
		alice := chatItem("Alice", true)
		openWith(p, alice, true, row)
		p.Set(xp(selectors.ChatList), chatList(alice))
		installChatControls(p)
	})
	f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, batch["Alice"], 1)

	msg := batch["Alice"][0]
	assert.Equal(t, schemas.MessageFile, msg.Type, "the download control outranks the caption")
	assert.Empty(t, msg.Error)
	assert.Empty(t, msg.Text)
	assert.Equal(t, "PDF", msg.FileType)
	assert.Equal(t, "12 КБ", msg.FileSize)
	assert.True(t, strings.HasPrefix(msg.FileName, "file_"))
	assert.Equal(t, ".pdf", filepath.Ext(msg.FileName))
	assert.Equal(t, filepath.Join(f.session.DownloadDir(), msg.FileName), msg.FilePath)
	assert.FileExists(t, msg.FilePath)
	assert.NoFileExists(t, filepath.Join(f.session.DownloadDir(), "report.pdf"))
}

func TestUnreadMessagesFileNextToLeftover(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(p *browsertest.Page) {
		row := fileRow("Alice", "report.pdf", "")
		row.Children[xp(selectors.FileDownloadButton)][0].OnClick = writeLater(f.session.DownloadDir(), "report (1).pdf")
		alice := chatItem("Alice", true)
		openWith(p, alice, true, row)
		p.Set(xp(selectors.ChatList), chatList(alice))
		installChatControls(p)
	})
	f.start()
	leftover := filepath.Join(f.session.DownloadDir(), "report.pdf")
	require.NoError(t, os.WriteFile(leftover, []byte("stale"), 0o644))

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, batch["Alice"], 1)

	msg := batch["Alice"][0]
	assert.Empty(t, msg.Error)
	assert.Equal(t, ".pdf", filepath.Ext(msg.FileName))
	claimed, err := os.ReadFile(msg.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(claimed), "the new download is claimed, not the leftover")
	assert.FileExists(t, leftover)
	assert.NoFileExists(t, filepath.Join(f.session.DownloadDir(), "report (1).pdf"))
}

func TestUnreadMessagesDownloadTimeoutIsRecorded(t *testing.T) {
	f := newFixture(t, func(p *browsertest.Page) {
		alice := chatItem("Alice", true)
		openWith(p, alice, true, fileRow("Alice", "never.pdf", ""), textRow("Alice", "did you get it?"))
		p.Set(xp(selectors.ChatList), chatList(alice))
		installChatControls(p)
	})
	f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	msgs := batch["Alice"]
	require.Len(t, msgs, 2)

	assert.Equal(t, schemas.MessageFile, msgs[0].Type)
	assert.True(t, msgs[0].Failed())
	assert.Contains(t, msgs[0].Error, "failed to download file")
	assert.Empty(t, msgs[0].FilePath)

	assert.Equal(t, "did you get it?", msgs[1].Text, "the row after a failed download is still read")
}

func TestUnreadMessagesMediaThroughContextMenu(t *testing.T) {
	testCases := []struct {
		name       string
		control    selectors.Name
		downloaded string
		kind       schemas.MessageType
		prefix     string
		ext        string
	}{
		{"voice note", selectors.AudioButton, "PTT-20261018-WA0001.opus", schemas.MessageAudio, "audio_", ".opus"},
		{"voice note without extension", selectors.AudioButton, "voice", schemas.MessageAudio, "audio_", ".ogg"},
		{"photo", selectors.Image, "IMG-20261018.jpeg", schemas.MessageImage, "image_", ".jpeg"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var f *fixture
			f = newFixture(t, func(p *browsertest.Page) {
				row := mediaRow("Bob", tc.control).
					WithChild(xp(selectors.Text), browsertest.NewElement("duration").WithText("0:07"))
				bob := chatItem("Bob", true)
				openWith(p, bob, true, row)
				p.Set(xp(selectors.ChatList), chatList(bob))
				installContextMenu(p, f.session.DownloadDir(), tc.downloaded)
				installChatControls(p)
			})
			p := f.start()

			batch, err := f.session.UnreadMessages(context.Background())
			require.NoError(t, err)
			require.Len(t, batch["Bob"], 1)

			msg := batch["Bob"][0]
			assert.Equal(t, tc.kind, msg.Type)
			assert.Equal(t, "Bob", msg.Sender)
			assert.Empty(t, msg.Error)
			assert.True(t, strings.HasPrefix(msg.FileName, tc.prefix), msg.FileName)
			assert.Equal(t, tc.ext, filepath.Ext(msg.FileName))
			assert.FileExists(t, msg.FilePath)

			events := p.Events()
			assert.Contains(t, events, "hover:"+string(tc.control))
			assert.Contains(t, events, "click:context_menu")
			assert.Contains(t, events, "click:download_option")
		})
	}
}

func TestUnreadMessagesWithoutUnreadMarker(t *testing.T) {
	f := newFixture(t, func(p *browsertest.Page) {
		alice := chatItem("Alice", true)
		openWith(p, alice, false, textRow("Alice", "first"), textRow("Alice", "second"))
		p.Set(xp(selectors.ChatList), chatList(alice))
		installChatControls(p)
	})
	f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, batch["Alice"], 2)
	assert.Equal(t, "first", batch["Alice"][0].Text)
	assert.Equal(t, "second", batch["Alice"][1].Text)
}

func TestUnreadMessagesKeepsChatWithNothingReadable(t *testing.T) {
	f := newFixture(t, func(p *browsertest.Page) {
		sticker := browsertest.NewElement("row:sticker").WithChild(xp(selectors.MessageMeta), meta("Alice"))
		alice := chatItem("Alice", true)
		openWith(p, alice, true, sticker)
		p.Set(xp(selectors.ChatList), chatList(alice, chatItem("Bob", false)))
		installChatControls(p)
	})
	f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	require.Contains(t, batch, "Alice", "an opened unread chat is reported even when empty")
	assert.NotNil(t, batch["Alice"])
	assert.Empty(t, batch["Alice"])
	assert.NotContains(t, batch, "Bob")
}

func TestUnreadMessagesSkipsChatsThatWillNotOpen(t *testing.T) {
	f := newFixture(t, func(p *browsertest.Page) {
		broken := chatItem("Broken", true)
		broken.ClickErr = errors.New("node is detached")
		bob := chatItem("Bob", true)
		openWith(p, bob, true, textRow("Bob", "ping"))
		p.Set(xp(selectors.ChatList), chatList(broken, bob))
		installChatControls(p)
	})
	f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, batch, "Broken")
	require.Len(t, batch["Bob"], 1)
	assert.Equal(t, "ping", batch["Bob"][0].Text)
}

func TestUnreadMessagesSkipsEmptyAndUnknownRows(t *testing.T) {
	f := newFixture(t, func(p *browsertest.Page) {
		sticker := browsertest.NewElement("row:sticker").WithChild(xp(selectors.MessageMeta), meta("Alice"))
		alice := chatItem("Alice", true)
		openWith(p, alice, true, textRow("Alice", "   "), sticker, textRow("Alice", "ok"))
		p.Set(xp(selectors.ChatList), chatList(alice))
		installChatControls(p)
	})
	f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, batch["Alice"], 1)
	assert.Equal(t, "ok", batch["Alice"][0].Text)
}

func TestUnreadMessagesHonoursBudget(t *testing.T) {
	clock := newFakeClock()
	f := newFixture(t, func(p *browsertest.Page) {
		first := chatItem("First", true)
		openWith(p, first, true, textRow("A", "one"))
		second := chatItem("Second", true)
		openWith(p, second, true, textRow("B", "two"))
		p.Set(xp(selectors.ChatList), chatList(first, second))

		installChatControls(p)
		closeChat := browsertest.NewElement("close_chat")
		closeChat.OnClick = func() { clock.Advance(time.Minute) }
		p.Set(xp(selectors.CloseChat), closeChat)
	})
	f.session.now = clock.Now
	p := f.start()

	batch, err := f.session.UnreadMessages(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Len(t, batch["First"], 1)
	assert.NotContains(t, p.Events(), "click:chat:Second")
}

func TestUnreadMessagesStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, func(p *browsertest.Page) {
		first := chatItem("First", true)
		first.OnClick = cancel
		second := chatItem("Second", true)
		p.Set(xp(selectors.ChatList), chatList(first, second))
		installChatControls(p)
	})
	p := f.start()

	batch, err := f.session.UnreadMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.NotContains(t, p.Events(), "click:chat:Second")
}

func TestChats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(p *browsertest.Page) {
		untitled := browsertest.NewElement("chat:untitled")
		p.Set(xp(selectors.ChatList), chatList(chatItem("Alice", true), chatItem("Bob", false), untitled))
	})

	_, err := f.session.Chats(ctx)
	assert.ErrorIs(t, err, ErrHandleNotStarted)

	f.start()
	chats, err := f.session.Chats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schemas.Chat{
		{Title: "Alice", Unread: true},
		{Title: "Bob", Unread: false},
		{Title: UnknownChat, Unread: false},
	}, chats)
}
