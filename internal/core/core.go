/*
Core runs the simulation.

# Module
  - engine: owns the market state aggregate and executes one tick per Step
  - scheduler: drives Step in real time at TickInterval / speed
  - commands: user operations, serialized with ticks on the engine mutex
  - persistence: Export / Restore through state.Snapshot

# Tick
 1. pending news nudges
 2. price model
 3. order book triggers, filled through the ledger
 4. mark to market, stop-loss and take-profit
 5. bots
 6. spread and depth
 7. news, volatility and condition timers
 8. price alerts
 9. equity sample and margin call
 10. snapshot publish

# Produce
  - snapshot, fill, close, news, volatility, notification and fault events on the bus
*/
package core
