package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangTR Language = "tr"
)

// Messages holds all translatable strings. Notification templates are HTML
// for the Telegram parse mode.
type Messages struct {
	// Bot
	BotActive    string
	Unauthorized string
	Yes          string
	No           string

	// Signals
	SignalApproved string
	SignalRejected string
	FilterSummary  string
	OrderDetails   string

	// Positions
	PositionClosed string
	NoPositions    string
	PositionLine   string

	// Alerts
	ErrorAlert    string
	EmergencyStop string

	// Reports
	DailyReport string
	StatusReply string
	StatsReply  string
	TopFailures string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	BotActive:    "🤖 Signal engine is active!",
	Unauthorized: "⛔ Unauthorized",
	Yes:          "yes",
	No:           "no",

	SignalApproved: "%s <b>SIGNAL APPROVED</b>\n\n📊 <b>Coin:</b> %s\n🎯 <b>Action:</b> %s\n💰 <b>Price:</b> $%s\n⏰ <b>Timeframe:</b> %s",
	SignalRejected: "❌ <b>SIGNAL REJECTED</b>\n\n📊 <b>Coin:</b> %s\n🎯 <b>Action:</b> %s\n💰 <b>Price:</b> $%s\n\n❌ <b>Reason:</b> %s",
	FilterSummary:  "<b>Filter results:</b>\n🌍 Global: %s %s\n🎯 Local: %s %s\n🤖 AI: %s %s",
	OrderDetails:   "📈 <b>Order:</b>\n📌 Type: %s\n💵 Quantity: %s\n🎯 TP: %s\n🛑 SL: %s",

	PositionClosed: "%s <b>POSITION CLOSED</b>\n\n📊 <b>Coin:</b> %s %s\n💰 <b>Entry:</b> %s\n🏁 <b>Exit:</b> %s\n📦 <b>Quantity:</b> %s\n💵 <b>P&amp;L:</b> %s\n📝 <b>Reason:</b> %s",
	NoPositions:    "No open positions",
	PositionLine:   "• %s %s %s @ %s (P&amp;L %s)",

	ErrorAlert:    "🚨 <b>BOT ERROR</b>\n\n📍 <b>Where:</b> %s\n❌ <b>Error:</b> %s",
	EmergencyStop: "🛑 <b>EMERGENCY STOP</b>\n\n❗ <b>Reason:</b> %s\nNew entries are halted and every position is being closed.",

	DailyReport: "📊 <b>DAILY SUMMARY</b> %s\n\n📈 <b>Trades:</b>\n• Total signals: %d\n• Approved: %d\n• Rejected: %d\n• Win rate: %.1f%%\n\n💰 <b>P&amp;L:</b>\n• Total: $%.2f\n• Winning: %d\n• Losing: %d",
	StatusReply: "🤖 <b>STATUS</b>\n\nMode: %s\nHalted: %s\nOpen positions: %d\nPending orders: %d\nUptime: %s",
	StatsReply:  "📊 <b>FILTER STATS</b>\n\n🌍 Global: %d/%d passed\n🎯 Local: %d/%d passed\n🤖 AI: %d/%d passed, %d ignored",
	TopFailures: "\n\n⚠️ <b>Top local failures:</b> %s",
}

// Turkish messages
var messagesTR = Messages{
	BotActive:    "🤖 Sinyal motoru aktif!",
	Unauthorized: "⛔ Yetkisiz erişim",
	Yes:          "evet",
	No:           "hayır",

	SignalApproved: "%s <b>SINYAL ONAYLANDI</b>\n\n📊 <b>Coin:</b> %s\n🎯 <b>Aksiyon:</b> %s\n💰 <b>Fiyat:</b> $%s\n⏰ <b>Timeframe:</b> %s",
	SignalRejected: "❌ <b>SINYAL REDDEDİLDİ</b>\n\n📊 <b>Coin:</b> %s\n🎯 <b>Aksiyon:</b> %s\n💰 <b>Fiyat:</b> $%s\n\n❌ <b>Red Sebebi:</b> %s",
	FilterSummary:  "<b>Filtre Sonuçları:</b>\n🌍 Global: %s %s\n🎯 Local: %s %s\n🤖 AI: %s %s",
	OrderDetails:   "📈 <b>Trade Detayları:</b>\n📌 Tip: %s\n💵 Miktar: %s\n🎯 TP: %s\n🛑 SL: %s",

	PositionClosed: "%s <b>POZİSYON KAPANDI</b>\n\n📊 <b>Coin:</b> %s %s\n💰 <b>Giriş:</b> %s\n🏁 <b>Çıkış:</b> %s\n📦 <b>Miktar:</b> %s\n💵 <b>P&amp;L:</b> %s\n📝 <b>Sebep:</b> %s",
	NoPositions:    "Açık pozisyon yok",
	PositionLine:   "• %s %s %s @ %s (P&amp;L %s)",

	ErrorAlert:    "🚨 <b>BOT HATASI</b>\n\n📍 <b>Yer:</b> %s\n❌ <b>Hata:</b> %s",
	EmergencyStop: "🛑 <b>ACİL DURDURMA</b>\n\n❗ <b>Sebep:</b> %s\nYeni girişler durduruldu, tüm pozisyonlar kapatılıyor.",

	DailyReport: "📊 <b>GÜNLÜK ÖZET</b> %s\n\n📈 <b>İşlemler:</b>\n• Toplam Sinyal: %d\n• Onaylanan: %d\n• Reddedilen: %d\n• Win Rate: %.1f%%\n\n💰 <b>P&amp;L:</b>\n• Toplam: $%.2f\n• Kazanan: %d\n• Kaybeden: %d",
	StatusReply: "🤖 <b>DURUM</b>\n\nMod: %s\nDurduruldu: %s\nAçık pozisyon: %d\nBekleyen emir: %d\nÇalışma süresi: %s",
	StatsReply:  "📊 <b>FİLTRE İSTATİSTİKLERİ</b>\n\n🌍 Global: %d/%d geçti\n🎯 Local: %d/%d geçti\n🤖 AI: %d/%d geçti, %d yok sayıldı",
	TopFailures: "\n\n⚠️ <b>En sık local hatalar:</b> %s",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	switch lang {
	case LangTR:
		currentLang = LangTR
		messages = &messagesTR
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
