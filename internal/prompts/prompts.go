package prompts

const DefaultSystem = "你是一个友好的语音聊天伙伴。回答要简短、口语化，不要使用列表、表情或 Markdown 格式。"

// Title is appended after the first exchange to ask for a session title.
const Title = "请根据以上对话，生成一个不超过10个字的会话标题，只输出标题本身，不要标点和引号。"

// TitleMaxRunes bounds the stored title length.
const TitleMaxRunes = 10

// ForRole resolves the system prompt for a role, falling back to the default
// when the role carries no prompt of its own.
func ForRole(rolePrompt string) string {
	if rolePrompt != "" {
		return rolePrompt
	}
	return DefaultSystem
}
