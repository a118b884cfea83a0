package selectors

import "regexp"

// The "ru" snapshot targets the Russian-locale web client. Class names such as
// x123j3cw are generated by the client's build and are the first thing to
// break; override them from config rather than editing this table.
func init() {
	register(Snapshot{
		Version: "ru",
		XPaths: map[Name]string{
			QRCanvas: "//canvas[@aria-label='Scan this QR code to link a device!']",

			ChatList:    "//div[@aria-label='Список чатов']",
			ChatItem:    ".//div[@role='listitem']",
			ChatTitle:   ".//span[@dir='auto' and @title]",
			UnreadBadge: ".//span[contains(@aria-label, 'непрочит')]",

			UnreadAnchor:       "//span[contains(text(), 'непрочит')]",
			MessagesAfter:      "following::div[contains(@class, 'message-in')]",
			MessageIn:          "//div[contains(@class, 'message-in')]",
			MessageMeta:        ".//div[@data-pre-plain-text]",
			MessageSender:      ".//span[@aria-label]",
			AudioButton:        ".//button[@aria-label='Воспроизвести голосовое сообщение']",
			FileDownloadButton: ".//div[@role='button'][contains(@title, 'Скачать')]",
			FileType:           ".//span[@data-meta-key='type']",
			FileSize:           ".//span[contains(text(), 'КБ') or contains(text(), 'МБ') or contains(text(), 'ГБ')]",
			Image:              ".//img[contains(@src, 'blob:')]",
			Text:               ".//span[contains(@class, 'selectable-text')]",
			ContextMenu:        "//div[@data-js-context-icon='true' and @aria-label='Контекстное меню']",
			DownloadOption:     "//div[@aria-label='Скачать']",

			NewChatButton:  "//button[@aria-label='Новый чат']",
			SearchInput:    "//p[@class='selectable-text copyable-text x15bjb6t x1n2onr6']",
			MessageInput:   "//div[@contenteditable='true' and @aria-label='Введите сообщение' and @data-tab='10']",
			SendButton:     "//div[contains(@class, 'x123j3cw')]//button[@data-tab='11' and @aria-label='Отправить']",
			AttachButton:   "//span[@data-icon='plus']",
			FileInput:      "//input[@accept='*']",
			FileSendButton: "//span[@data-icon='send']",
			MenuButton:     "/html/body/div[1]/div/div/div[3]/div/div[4]/div/header/div[3]/div/div[3]/div/button/span",
			CloseChat:      "//div[@aria-label='Закрыть чат']",
		},
		DownloadTitle: regexp.MustCompile(`Скачать\s+"(.+)"`),
	})

	register(Snapshot{
		Version: "en",
		XPaths: map[Name]string{
			QRCanvas: "//canvas[@aria-label='Scan this QR code to link a device!']",

			ChatList:    "//div[@aria-label='Chat list']",
			ChatItem:    ".//div[@role='listitem']",
			ChatTitle:   ".//span[@dir='auto' and @title]",
			UnreadBadge: ".//span[contains(@aria-label, 'unread')]",

			UnreadAnchor:       "//span[contains(text(), 'unread message')]",
			MessagesAfter:      "following::div[contains(@class, 'message-in')]",
			MessageIn:          "//div[contains(@class, 'message-in')]",
			MessageMeta:        ".//div[@data-pre-plain-text]",
			MessageSender:      ".//span[@aria-label]",
			AudioButton:        ".//button[@aria-label='Play voice message']",
			FileDownloadButton: ".//div[@role='button'][contains(@title, 'Download')]",
			FileType:           ".//span[@data-meta-key='type']",
			FileSize:           ".//span[contains(text(), 'kB') or contains(text(), 'MB') or contains(text(), 'GB')]",
			Image:              ".//img[contains(@src, 'blob:')]",
			Text:               ".//span[contains(@class, 'selectable-text')]",
			ContextMenu:        "//div[@data-js-context-icon='true' and @aria-label='Context menu']",
			DownloadOption:     "//div[@aria-label='Download']",

			NewChatButton:  "//button[@aria-label='New chat']",
			SearchInput:    "//p[@class='selectable-text copyable-text x15bjb6t x1n2onr6']",
			MessageInput:   "//div[@contenteditable='true' and @aria-label='Type a message' and @data-tab='10']",
			SendButton:     "//button[@data-tab='11' and @aria-label='Send']",
			AttachButton:   "//span[@data-icon='plus']",
			FileInput:      "//input[@accept='*']",
			FileSendButton: "//span[@data-icon='send']",
			MenuButton:     "//header//button[@aria-label='Menu']",
			CloseChat:      "//div[@aria-label='Close chat']",
		},
		DownloadTitle: regexp.MustCompile(`Download\s+"(.+)"`),
	})
}
