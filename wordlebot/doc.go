// Package wordlebot implements a Discord bot that relays prompts to a
// generative-text API and runs a daily word-guessing game.
//
// Each Discord server gets its own daily target word, chosen
// deterministically from the server ID and the calendar date. Players get
// [MaxAttempts] guesses per day, tracked in a relational database and
// cleared by a scheduled daily reset.
//
// Key components of the package include:
//
//   - Bot: Owns the lifecycle of every other component.
//   - Evaluator: Scores a single guess and updates the attempt ledger.
//   - WordStore / AttemptLedger: gorm-backed persistence for words and attempts.
//   - ResetScheduler: Clears the attempt ledger on a cron schedule.
//   - Generator: Sends prompts to an OpenAI-compatible chat completion API.
//   - Discord: Handles the gateway session and slash command registration.
//   - API: Backend admin API for status, resets and word imports.
//
// The bot supports these commands:
//
//   - /wordle: Submit a guess for today's word.
//   - /ask: Ask the generative-text model a question.
//   - !g <prompt>: Message-prefix form of /ask.
package wordlebot
