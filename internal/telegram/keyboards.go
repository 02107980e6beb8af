package telegram

import (
	"github.com/go-telegram/bot/models"

	"github.com/cuongpo/Aura-Farming-Core/internal/storage"
)

// Callback data
const (
	cbTransferConfirm = "transfer:confirm"
	cbTransferCancel  = "transfer:cancel"
	cbQuestOpen       = "quest:open"
	cbQuestClaim      = "quest:claim"
	cbQuestRefresh    = "quest:refresh"
)

// MainKeyboard returns the start menu keyboard, or nil without a Mini-App
func MainKeyboard(webAppURL string) *models.InlineKeyboardMarkup {
	if webAppURL == "" {
		return nil
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🌟 Open Aura App", WebApp: &models.WebAppInfo{URL: webAppURL}},
			},
		},
	}
}

// WalletKeyboard links the address on the explorer
func WalletKeyboard(addressURL string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🔍 View on explorer", URL: addressURL},
			},
		},
	}
}

// ConfirmTransferKeyboard asks to confirm a pending transfer
func ConfirmTransferKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Confirm", CallbackData: cbTransferConfirm},
				{Text: "❌ Cancel", CallbackData: cbTransferCancel},
			},
		},
	}
}

// QuestKeyboard returns the next chest action, or nil when there is none
func QuestKeyboard(chest *storage.ChestState) *models.InlineKeyboardMarkup {
	if chest == nil || !chest.Eligible {
		return nil
	}

	var row []models.InlineKeyboardButton
	switch {
	case !chest.Opened:
		row = append(row, models.InlineKeyboardButton{Text: "🎁 Open chest", CallbackData: cbQuestOpen})
	case chest.Reward > 0 && !chest.Claimed():
		row = append(row, models.InlineKeyboardButton{Text: "💎 Claim AURA", CallbackData: cbQuestClaim})
	default:
		return nil
	}
	row = append(row, models.InlineKeyboardButton{Text: "🔄", CallbackData: cbQuestRefresh})

	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}}
}
